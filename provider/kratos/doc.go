// Package kratos backs onboard identities with an Ory Kratos deployment.
//
// The admin API creates identities with a password credential and a
// verified email address, so approved users can sign in right away. Sign in
// runs the native (API) login flow against the public API.
package kratos
