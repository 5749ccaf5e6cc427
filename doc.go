// Package onboard implements an invite-only onboarding flow: visitors submit
// access requests, an administrator approves or rejects them, and approval
// provisions an identity plus an approved profile.
//
// Access requests:
//   - AccessRequest rows start pending. AccessRequestStateMachine owns the
//     pending to processed or rejected transitions, runs hooks, emits activity
//     and refuses to move a decided request (ErrTerminalState).
//   - Status updates are compare-and-set on the current status, so two admins
//     deciding the same request cannot both win (ErrStaleTransition).
//
// Provisioning:
//   - ProvisionAccountHandler validates the input, creates the identity through
//     an IdentityAdmin, creates the profile and marks the request processed.
//     A failed profile insert deletes the new identity again when compensation
//     is enabled, otherwise the error reports the orphaned identity id.
//   - A failed status update after a successful provision is returned as a
//     warning, the account itself stays usable.
//
// Sessions:
//   - Auther signs users in with a password, issues access and refresh tokens
//     and rotates the refresh token on every refresh. SessionContext tracks the
//     signed in user and profile for clients and answers NeedsApproval.
//
// Activity sinks:
//   - ActivitySink receives lifecycle, login and provisioning events. Sinks run
//     best effort, failures are logged and never fail the operation.
package onboard
