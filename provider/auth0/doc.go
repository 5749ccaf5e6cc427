// Package auth0 backs onboard identities with an Auth0 tenant.
//
// IdentityAdmin creates pre-verified users in a database connection through
// the management API and deletes them again when provisioning compensates.
// User ids are generated locally, so the Auth0 user "auth0|<uuid>" and the
// onboard profile share the same uuid. NewTokenValidator accepts the access
// tokens Auth0 issues for those users.
package auth0
