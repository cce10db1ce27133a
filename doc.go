// Package famauth is the identity and session core of a family allowance
// service: parents and children register into a family, every login crosses
// a mandatory second factor, and access is carried by short-lived JWTs over
// rotating opaque refresh tokens.
//
// The package is designed for concurrent server workloads: Engine methods
// are safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// famauth is the public surface. It exposes [Engine], [Builder], [Config],
// the store interfaces, and value types (LoginResult, SessionInfo, etc.).
// Persistence lives behind the store interfaces (PostgreSQL implementations
// under internal/postgres), and the short-lived coordination state (rate
// windows, challenge consumption, TOTP replay marks) lives in Redis behind
// internal packages.
//
// # Authentication flow
//
// A correct password or PIN never yields tokens directly. It yields an
// MFA-pending token that must be redeemed through [Engine.VerifyMFA] with
// one piece of evidence: a TOTP code, a backup code, a device token, or an
// approved parent-approval ticket. Only that redemption creates a session.
package famauth
