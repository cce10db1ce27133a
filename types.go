package famauth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Role is the account role inside a family.
type Role uint8

const (
	// RoleParent manages the family, approves child logins, and can unlock
	// child accounts.
	RoleParent Role = iota
	// RoleChild authenticates with a family code, nickname, and PIN.
	RoleChild
	// RoleRelative is an adult account with read-mostly access (gift deposits).
	RoleRelative
)

// String returns the stable wire name of the role.
func (r Role) String() string {
	switch r {
	case RoleParent:
		return "parent"
	case RoleChild:
		return "child"
	case RoleRelative:
		return "relative"
	default:
		return "unknown"
	}
}

// ParseRole maps a wire name back to a [Role].
func ParseRole(s string) (Role, bool) {
	switch s {
	case "parent":
		return RoleParent, true
	case "child":
		return RoleChild, true
	case "relative":
		return RoleRelative, true
	default:
		return RoleParent, false
	}
}

// MFAMethod identifies one of the interchangeable second-factor methods.
type MFAMethod uint8

const (
	// MFATOTP is a time-based one-time code checked against the account secret.
	MFATOTP MFAMethod = iota
	// MFABackupCode is a pre-generated single-use recovery code.
	MFABackupCode
	// MFABiometric is a device-bound secret established after a prior full MFA pass.
	MFABiometric
	// MFAParentApproval is an asynchronous approval resolved by a parent.
	MFAParentApproval
)

// String returns the stable wire name of the method.
func (m MFAMethod) String() string {
	switch m {
	case MFATOTP:
		return "totp"
	case MFABackupCode:
		return "backup_code"
	case MFABiometric:
		return "biometric"
	case MFAParentApproval:
		return "parent_approval"
	default:
		return "unknown"
	}
}

// ParseMFAMethod maps a wire name back to an [MFAMethod].
func ParseMFAMethod(s string) (MFAMethod, bool) {
	switch s {
	case "totp":
		return MFATOTP, true
	case "backup_code":
		return MFABackupCode, true
	case "biometric":
		return MFABiometric, true
	case "parent_approval":
		return MFAParentApproval, true
	default:
		return MFATOTP, false
	}
}

/*
====================================
TYPED IDENTIFIERS
====================================

Each persisted entity gets its own opaque UUID wrapper so that a session id
can never be passed where a user id is expected. No behavior beyond equality,
stringification, and parsing.
*/

// UserID identifies a [UserRecord].
type UserID uuid.UUID

// SessionID identifies a [SessionRecord].
type SessionID uuid.UUID

// FamilyID groups parent, relative, and child accounts.
type FamilyID uuid.UUID

// ApprovalID identifies an [ApprovalRequestRecord].
type ApprovalID uuid.UUID

// NewUserID returns a random user id.
func NewUserID() UserID { return UserID(uuid.New()) }

// NewSessionID returns a random session id.
func NewSessionID() SessionID { return SessionID(uuid.New()) }

// NewFamilyID returns a random family id.
func NewFamilyID() FamilyID { return FamilyID(uuid.New()) }

// NewApprovalID returns a random approval request id.
func NewApprovalID() ApprovalID { return ApprovalID(uuid.New()) }

func (id UserID) String() string     { return uuid.UUID(id).String() }
func (id SessionID) String() string  { return uuid.UUID(id).String() }
func (id FamilyID) String() string   { return uuid.UUID(id).String() }
func (id ApprovalID) String() string { return uuid.UUID(id).String() }

// IsZero reports whether the id is the zero value.
func (id UserID) IsZero() bool     { return uuid.UUID(id) == uuid.Nil }
func (id SessionID) IsZero() bool  { return uuid.UUID(id) == uuid.Nil }
func (id FamilyID) IsZero() bool   { return uuid.UUID(id) == uuid.Nil }
func (id ApprovalID) IsZero() bool { return uuid.UUID(id) == uuid.Nil }

// ParseUserID parses the canonical string form of a user id.
func ParseUserID(s string) (UserID, error) {
	u, err := uuid.Parse(s)
	return UserID(u), err
}

// ParseSessionID parses the canonical string form of a session id.
func ParseSessionID(s string) (SessionID, error) {
	u, err := uuid.Parse(s)
	return SessionID(u), err
}

// ParseFamilyID parses the canonical string form of a family id.
func ParseFamilyID(s string) (FamilyID, error) {
	u, err := uuid.Parse(s)
	return FamilyID(u), err
}

// ParseApprovalID parses the canonical string form of an approval id.
func ParseApprovalID(s string) (ApprovalID, error) {
	u, err := uuid.Parse(s)
	return ApprovalID(u), err
}

/*
====================================
CREDENTIALS
====================================
*/

// AdultCredential authenticates a parent or relative: normalized email plus
// password. Children never carry an email.
type AdultCredential struct {
	Email    string
	Password string
}

// ChildCredential authenticates a child: family code, nickname inside the
// family, and numeric PIN.
type ChildCredential struct {
	FamilyCode string
	Nickname   string
	PIN        string
}

/*
====================================
PERSISTED RECORDS
====================================
*/

// UserRecord is the identity record held by the [UserStore].
//
// SecretHash holds the password digest for adults and the PIN digest for
// children; the two are mutually exclusive by role. TOTPSecretEnc is the
// AES-GCM sealed TOTP secret and is nil until TOTP setup completes.
type UserRecord struct {
	ID                  UserID
	FamilyID            FamilyID
	Email               string
	Nickname            string
	SecretHash          string
	Role                Role
	MFAEnabled          bool
	TOTPSecretEnc       []byte
	FailedLoginAttempts int
	LockoutEnd          *time.Time
	CreatedAt           time.Time
}

// LockedAt reports whether the account lockout window is active at the
// given instant.
func (u *UserRecord) LockedAt(now time.Time) bool {
	return u.LockoutEnd != nil && now.Before(*u.LockoutEnd)
}

// Identifier returns the login identifier recorded in attempt logs:
// email for adults, nickname for children.
func (u *UserRecord) Identifier() string {
	if u.Role == RoleChild {
		return u.Nickname
	}
	return u.Email
}

// SessionRecord is one authenticated device lineage. Only the hash of the
// current refresh token is ever stored; the hash column is unique, so at
// most one live session can answer to a given refresh token.
type SessionRecord struct {
	ID             SessionID
	UserID         UserID
	RefreshHash    [32]byte
	DeviceName     string
	IP             string
	UserAgent      string
	TrustedDevice  bool
	LastActivityAt time.Time
	ExpiresAt      time.Time
	Revoked        bool
	RevokedAt      *time.Time
	CreatedAt      time.Time
}

// ActiveAt reports whether the session is neither revoked nor expired at
// the given instant. Expiry is evaluated at read time; the sweeper only
// removes rows physically.
func (s *SessionRecord) ActiveAt(now time.Time) bool {
	return !s.Revoked && now.Before(s.ExpiresAt)
}

// BiometricTokenRecord is a device-bound long-lived credential that
// substitutes for interactive MFA. The raw device secret is never stored,
// only its hash.
type BiometricTokenRecord struct {
	UserID       UserID
	DeviceID     string
	DeviceName   string
	Platform     string
	BiometryType string
	SecretHash   [32]byte
	ExpiresAt    time.Time
	Valid        bool
	LastUsedAt   *time.Time
	CreatedAt    time.Time
}

// BackupCodeRecord is one single-use recovery code, stored as a hash.
type BackupCodeRecord struct {
	Hash   [32]byte
	Used   bool
	UsedAt *time.Time
}

// LoginAttemptRecord is an append-only audit row. UserID is nil when the
// presented identifier resolved to no account.
type LoginAttemptRecord struct {
	UserID     *UserID
	Identifier string
	Success    bool
	Reason     string
	IP         string
	UserAgent  string
	Method     string
	At         time.Time
}

// ApprovalStatus is the lifecycle state of a parent approval request.
type ApprovalStatus uint8

const (
	// ApprovalPending awaits a parent decision.
	ApprovalPending ApprovalStatus = iota
	// ApprovalApproved completes the child login.
	ApprovalApproved
	// ApprovalRejected fails the child login.
	ApprovalRejected
	// ApprovalExpired is the terminal state after the decision window lapses.
	ApprovalExpired
	// ApprovalUsed marks an approved request that already completed a login.
	ApprovalUsed
)

// String returns the stable wire name of the status.
func (s ApprovalStatus) String() string {
	switch s {
	case ApprovalPending:
		return "pending"
	case ApprovalApproved:
		return "approved"
	case ApprovalRejected:
		return "rejected"
	case ApprovalExpired:
		return "expired"
	case ApprovalUsed:
		return "used"
	default:
		return "unknown"
	}
}

// ParseApprovalStatus maps a stored wire name back to its status.
func ParseApprovalStatus(s string) (ApprovalStatus, bool) {
	switch s {
	case "pending":
		return ApprovalPending, true
	case "approved":
		return ApprovalApproved, true
	case "rejected":
		return ApprovalRejected, true
	case "expired":
		return ApprovalExpired, true
	case "used":
		return ApprovalUsed, true
	default:
		return ApprovalPending, false
	}
}

// ApprovalRequestRecord is the alternate MFA channel for children: the
// child's login parks here until a parent in the same family decides.
type ApprovalRequestRecord struct {
	ID          ApprovalID
	ChildID     UserID
	FamilyID    FamilyID
	DeviceName  string
	IP          string
	Status      ApprovalStatus
	ExpiresAt   time.Time
	ResponderID *UserID
	RespondedAt *time.Time
	CreatedAt   time.Time
}

// EffectiveStatus folds wall-clock expiry into the stored status so that a
// pending row past its deadline reads as expired regardless of sweeping.
func (r *ApprovalRequestRecord) EffectiveStatus(now time.Time) ApprovalStatus {
	if r.Status == ApprovalPending && !now.Before(r.ExpiresAt) {
		return ApprovalExpired
	}
	return r.Status
}

/*
====================================
STORE ADAPTERS
====================================

The engine never talks to Postgres directly; it goes through these
interfaces. internal/postgres carries the production implementations, tests
use in-memory fakes with the same conditional-update semantics.
*/

// UserStore persists identity records and families.
type UserStore interface {
	CreateFamily(ctx context.Context, id FamilyID, code string) error
	Create(ctx context.Context, user *UserRecord) error
	GetByID(ctx context.Context, id UserID) (*UserRecord, error)
	GetByEmail(ctx context.Context, email string) (*UserRecord, error)
	GetChild(ctx context.Context, familyCode, nickname string) (*UserRecord, error)
	SetTOTPSecret(ctx context.Context, id UserID, sealed []byte) error
	SetMFAEnabled(ctx context.Context, id UserID, enabled bool) error

	// RecordLoginFailure atomically increments the failure counter and, when
	// the post-increment count reaches threshold, sets the lockout end to
	// lockUntil. It returns the post-increment count and the lockout end,
	// if any.
	RecordLoginFailure(ctx context.Context, id UserID, threshold int, lockUntil time.Time) (int, *time.Time, error)
	ResetLoginFailures(ctx context.Context, id UserID) error
	Unlock(ctx context.Context, id UserID) error
	Delete(ctx context.Context, id UserID) error
}

// SessionStore persists refresh-token lineages.
type SessionStore interface {
	Create(ctx context.Context, s *SessionRecord) error
	GetByID(ctx context.Context, id SessionID) (*SessionRecord, error)

	// RotateRefreshHash swaps the stored hash in a single conditional update:
	// it succeeds only if the session still carries oldHash, is not revoked,
	// and is not expired. Returns false when the condition did not hold.
	RotateRefreshHash(ctx context.Context, id SessionID, oldHash, newHash [32]byte, expiresAt time.Time) (bool, error)
	Touch(ctx context.Context, id SessionID, at time.Time) error
	Revoke(ctx context.Context, id SessionID, at time.Time) error

	// RevokeAllForUser revokes every active session of the user except the
	// given one; pass the zero SessionID to revoke all. Scoped to sessions
	// existing at call time.
	RevokeAllForUser(ctx context.Context, userID UserID, except SessionID, at time.Time) (int, error)
	ListActive(ctx context.Context, userID UserID, now time.Time) ([]SessionRecord, error)

	// DeleteExpired removes sessions past expiry plus revoked sessions past
	// the retention window. Idempotent; safe to run concurrently with reads.
	DeleteExpired(ctx context.Context, now time.Time, retention time.Duration) (int64, error)
}

// BiometricTokenStore persists device-bound credentials.
type BiometricTokenStore interface {
	Upsert(ctx context.Context, rec *BiometricTokenRecord) error
	Get(ctx context.Context, userID UserID, deviceID string) (*BiometricTokenRecord, error)
	TouchLastUsed(ctx context.Context, userID UserID, deviceID string, at time.Time) error
	Invalidate(ctx context.Context, userID UserID, deviceID string) error
	InvalidateAll(ctx context.Context, userID UserID) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// BackupCodeStore persists single-use recovery codes.
type BackupCodeStore interface {
	// Replace atomically drops the user's unused batch and installs a new one.
	Replace(ctx context.Context, userID UserID, hashes [][32]byte) error

	// Consume flips the matching unused code to used in a single conditional
	// update. Returns false when no unused code matches; two concurrent calls
	// for the same code see exactly one true.
	Consume(ctx context.Context, userID UserID, hash [32]byte, at time.Time) (bool, error)
	CountUnused(ctx context.Context, userID UserID) (int, error)
}

// LoginAttemptStore records the append-only attempt log.
type LoginAttemptStore interface {
	Append(ctx context.Context, rec *LoginAttemptRecord) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ApprovalStore persists parent approval requests.
type ApprovalStore interface {
	Create(ctx context.Context, rec *ApprovalRequestRecord) error
	Get(ctx context.Context, id ApprovalID) (*ApprovalRequestRecord, error)

	// Resolve moves a pending, unexpired request to a terminal status in one
	// conditional update; returns false when the request was not pending.
	Resolve(ctx context.Context, id ApprovalID, status ApprovalStatus, responder UserID, at time.Time) (bool, error)

	// ConsumeApproved flips an approved request for the given child to used
	// in one conditional update, so each parent decision completes at most
	// one login. Returns false when the request is not currently approved
	// for that child; two concurrent logins see exactly one true.
	ConsumeApproved(ctx context.Context, id ApprovalID, childID UserID) (bool, error)
	CountOpenForChild(ctx context.Context, childID UserID, since time.Time) (int, error)
	ListPendingForFamily(ctx context.Context, familyID FamilyID, now time.Time) ([]ApprovalRequestRecord, error)
	ExpireOld(ctx context.Context, now time.Time) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Stores bundles every adapter the engine needs.
type Stores struct {
	Users       UserStore
	Sessions    SessionStore
	Biometrics  BiometricTokenStore
	BackupCodes BackupCodeStore
	Attempts    LoginAttemptStore
	Approvals   ApprovalStore
}

// Hasher is the pluggable one-way hash capability for passwords and PINs.
// The production implementation is [password.Argon2]; the algorithm behind
// the digest is not this core's concern.
type Hasher interface {
	Hash(secret string) (string, error)
	Verify(secret, digest string) (bool, error)
}

/*
====================================
RESULT DTOS
====================================
*/

// UserSummary is the caller-visible projection of a user.
type UserSummary struct {
	ID         UserID
	FamilyID   FamilyID
	Email      string
	Nickname   string
	Role       Role
	MFAEnabled bool
}

// RegistrationResult is returned by registration. No session is issued:
// the account cannot log in until MFA setup completes.
type RegistrationResult struct {
	UserID           UserID
	FamilyID         FamilyID
	FamilyCode       string
	MFASetupToken    string
	MFASetupRequired bool
}

// LoginResult is the single outcome shape for every login-family call.
// Either RequiresMFA is true and MFAToken plus AvailableMethods are set, or
// a full token pair is present.
type LoginResult struct {
	RequiresMFA      bool
	MFAToken         string
	AvailableMethods []MFAMethod
	UserID           UserID

	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	SessionID    SessionID
	User         *UserSummary
}

// MFAEvidence carries the per-method proof for [Engine.VerifyMFA]. Only
// the fields for the chosen method need to be set.
type MFAEvidence struct {
	// Code is the TOTP or backup code.
	Code string
	// DeviceID and DeviceSecret identify a biometric enrollment.
	DeviceID     string
	DeviceSecret string
	// ApprovalID references a resolved parent approval request.
	ApprovalID ApprovalID

	// TrustDevice marks the resulting session as a trusted device.
	TrustDevice bool
	// DeviceName labels the resulting session in listings.
	DeviceName string
}

// SessionInfo is one row of the "manage sessions" listing.
type SessionInfo struct {
	ID             SessionID
	DeviceName     string
	IP             string
	UserAgent      string
	TrustedDevice  bool
	Current        bool
	CreatedAt      time.Time
	LastActivityAt time.Time
	ExpiresAt      time.Time
}

// TOTPSetup is returned by [Engine.BeginTOTPSetup].
type TOTPSetup struct {
	SecretBase32 string
	OtpauthURI   string
	SetupToken   string
}

// BiometricEnrollment is returned by [Engine.EnableBiometric]. Token is the
// raw device secret; it is shown exactly once.
type BiometricEnrollment struct {
	DeviceID  string
	Token     string
	ExpiresAt time.Time
}

// ApprovalTicket is returned when a child requests parent approval.
type ApprovalTicket struct {
	ID        ApprovalID
	Status    ApprovalStatus
	ExpiresAt time.Time
}

// SweepReport summarizes one retention sweep pass.
type SweepReport struct {
	Sessions        int64
	BiometricTokens int64
	LoginAttempts   int64
	Approvals       int64
	ApprovalsMarked int64
}
