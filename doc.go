// Package identity implements account and session lifecycle management:
// account creation, update, partial patching and deletion, credential
// sanitization, role resolution with an admin-invariant guard, password
// reset and email change verification token flows, and refresh/access
// session token issuance.
//
// The package is persistence backed by bun repositories and exposes an
// abstract operation surface; HTTP transport, mail delivery and the
// role catalog refresh lifecycle remain external collaborators wired in
// by the embedding application.
package identity
