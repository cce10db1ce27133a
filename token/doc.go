// Package token is the codec for every bearer artifact the engine hands
// out: signed JWT access tokens, signed short-lived challenge tokens
// (MFA-pending and MFA-setup), and opaque high-entropy refresh tokens of
// which only a hash is ever persisted.
//
// The package is stateless. Single-use semantics for challenge tokens and
// the stored-hash lookup for refresh tokens live with the engine and its
// stores; this package only creates and validates the artifacts.
package token
