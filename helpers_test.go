package famauth

import (
	"context"
	"encoding/base32"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// memDB is an in-memory store set with the same conditional-update
// semantics as the SQL layer, so engine tests cover the contracts the
// real stores promise.
type memDB struct {
	mu         sync.Mutex
	codes      map[string]FamilyID
	users      map[UserID]*UserRecord
	sessions   map[SessionID]*SessionRecord
	biometrics map[string]*BiometricTokenRecord
	backups    map[UserID][]*BackupCodeRecord
	attempts   []*LoginAttemptRecord
	approvals  map[ApprovalID]*ApprovalRequestRecord
}

func newMemDB() *memDB {
	return &memDB{
		codes:      make(map[string]FamilyID),
		users:      make(map[UserID]*UserRecord),
		sessions:   make(map[SessionID]*SessionRecord),
		biometrics: make(map[string]*BiometricTokenRecord),
		backups:    make(map[UserID][]*BackupCodeRecord),
		approvals:  make(map[ApprovalID]*ApprovalRequestRecord),
	}
}

func (m *memDB) stores() Stores {
	return Stores{
		Users:       &memUsers{m},
		Sessions:    &memSessions{m},
		Biometrics:  &memBiometrics{m},
		BackupCodes: &memBackups{m},
		Attempts:    &memAttempts{m},
		Approvals:   &memApprovals{m},
	}
}

type memUsers struct{ db *memDB }

func (s *memUsers) CreateFamily(_ context.Context, id FamilyID, code string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, dup := s.db.codes[code]; dup {
		return ErrDuplicateIdentifier
	}
	s.db.codes[code] = id
	return nil
}

func (s *memUsers) Create(_ context.Context, u *UserRecord) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, other := range s.db.users {
		if u.Email != "" && other.Email == u.Email {
			return ErrDuplicateIdentifier
		}
		if other.FamilyID == u.FamilyID && strings.EqualFold(other.Nickname, u.Nickname) {
			return ErrDuplicateIdentifier
		}
	}
	cp := *u
	s.db.users[u.ID] = &cp
	return nil
}

func (s *memUsers) GetByID(_ context.Context, id UserID) (*UserRecord, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	u, ok := s.db.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memUsers) GetByEmail(_ context.Context, email string) (*UserRecord, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, u := range s.db.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *memUsers) GetChild(_ context.Context, familyCode, nickname string) (*UserRecord, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	famID, ok := s.db.codes[familyCode]
	if !ok {
		return nil, ErrUserNotFound
	}
	for _, u := range s.db.users {
		if u.FamilyID == famID && u.Role == RoleChild && strings.EqualFold(u.Nickname, nickname) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *memUsers) SetTOTPSecret(_ context.Context, id UserID, sealed []byte) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	u, ok := s.db.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.TOTPSecretEnc = append([]byte(nil), sealed...)
	return nil
}

func (s *memUsers) SetMFAEnabled(_ context.Context, id UserID, enabled bool) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	u, ok := s.db.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.MFAEnabled = enabled
	return nil
}

func (s *memUsers) RecordLoginFailure(_ context.Context, id UserID, threshold int, lockUntil time.Time) (int, *time.Time, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	u, ok := s.db.users[id]
	if !ok {
		return 0, nil, ErrUserNotFound
	}
	u.FailedLoginAttempts++
	if u.FailedLoginAttempts >= threshold && u.LockoutEnd == nil {
		until := lockUntil
		u.LockoutEnd = &until
	}
	return u.FailedLoginAttempts, u.LockoutEnd, nil
}

func (s *memUsers) ResetLoginFailures(_ context.Context, id UserID) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	u, ok := s.db.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.FailedLoginAttempts = 0
	u.LockoutEnd = nil
	return nil
}

func (s *memUsers) Unlock(ctx context.Context, id UserID) error {
	return s.ResetLoginFailures(ctx, id)
}

func (s *memUsers) Delete(_ context.Context, id UserID) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.users[id]; !ok {
		return ErrUserNotFound
	}
	delete(s.db.users, id)
	for sid, sess := range s.db.sessions {
		if sess.UserID == id {
			delete(s.db.sessions, sid)
		}
	}
	delete(s.db.backups, id)
	return nil
}

type memSessions struct{ db *memDB }

func (s *memSessions) Create(_ context.Context, sess *SessionRecord) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	cp := *sess
	s.db.sessions[sess.ID] = &cp
	return nil
}

func (s *memSessions) GetByID(_ context.Context, id SessionID) (*SessionRecord, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	sess, ok := s.db.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *memSessions) RotateRefreshHash(_ context.Context, id SessionID, oldHash, newHash [32]byte, expiresAt time.Time) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	sess, ok := s.db.sessions[id]
	if !ok || sess.Revoked || sess.RefreshHash != oldHash {
		return false, nil
	}
	sess.RefreshHash = newHash
	sess.ExpiresAt = expiresAt
	return true, nil
}

func (s *memSessions) Touch(_ context.Context, id SessionID, at time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if sess, ok := s.db.sessions[id]; ok {
		sess.LastActivityAt = at
	}
	return nil
}

func (s *memSessions) Revoke(_ context.Context, id SessionID, at time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if sess, ok := s.db.sessions[id]; ok && !sess.Revoked {
		sess.Revoked = true
		sess.RevokedAt = &at
	}
	return nil
}

func (s *memSessions) RevokeAllForUser(_ context.Context, userID UserID, except SessionID, at time.Time) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	n := 0
	for _, sess := range s.db.sessions {
		if sess.UserID == userID && sess.ID != except && !sess.Revoked {
			sess.Revoked = true
			sess.RevokedAt = &at
			n++
		}
	}
	return n, nil
}

func (s *memSessions) ListActive(_ context.Context, userID UserID, now time.Time) ([]SessionRecord, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []SessionRecord
	for _, sess := range s.db.sessions {
		if sess.UserID == userID && sess.ActiveAt(now) {
			out = append(out, *sess)
		}
	}
	return out, nil
}

func (s *memSessions) DeleteExpired(_ context.Context, now time.Time, retention time.Duration) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	cutoff := now.Add(-retention)
	var n int64
	for id, sess := range s.db.sessions {
		if sess.ExpiresAt.Before(cutoff) || (sess.Revoked && sess.RevokedAt != nil && sess.RevokedAt.Before(cutoff)) {
			delete(s.db.sessions, id)
			n++
		}
	}
	return n, nil
}

type memBiometrics struct{ db *memDB }

func bioKey(userID UserID, deviceID string) string {
	return userID.String() + "|" + deviceID
}

func (s *memBiometrics) Upsert(_ context.Context, rec *BiometricTokenRecord) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	cp := *rec
	s.db.biometrics[bioKey(rec.UserID, rec.DeviceID)] = &cp
	return nil
}

func (s *memBiometrics) Get(_ context.Context, userID UserID, deviceID string) (*BiometricTokenRecord, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	rec, ok := s.db.biometrics[bioKey(userID, deviceID)]
	if !ok {
		return nil, ErrDeviceTokenInvalid
	}
	cp := *rec
	return &cp, nil
}

func (s *memBiometrics) TouchLastUsed(_ context.Context, userID UserID, deviceID string, at time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if rec, ok := s.db.biometrics[bioKey(userID, deviceID)]; ok {
		rec.LastUsedAt = &at
	}
	return nil
}

func (s *memBiometrics) Invalidate(_ context.Context, userID UserID, deviceID string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	rec, ok := s.db.biometrics[bioKey(userID, deviceID)]
	if !ok {
		return ErrDeviceTokenInvalid
	}
	rec.Valid = false
	return nil
}

func (s *memBiometrics) InvalidateAll(_ context.Context, userID UserID) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, rec := range s.db.biometrics {
		if rec.UserID == userID {
			rec.Valid = false
		}
	}
	return nil
}

func (s *memBiometrics) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var n int64
	for key, rec := range s.db.biometrics {
		if !rec.Valid || !rec.ExpiresAt.After(now) {
			delete(s.db.biometrics, key)
			n++
		}
	}
	return n, nil
}

type memBackups struct{ db *memDB }

func (s *memBackups) Replace(_ context.Context, userID UserID, hashes [][32]byte) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	batch := make([]*BackupCodeRecord, 0, len(hashes))
	for _, h := range hashes {
		batch = append(batch, &BackupCodeRecord{Hash: h})
	}
	s.db.backups[userID] = batch
	return nil
}

func (s *memBackups) Consume(_ context.Context, userID UserID, hash [32]byte, at time.Time) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, rec := range s.db.backups[userID] {
		if rec.Hash == hash && !rec.Used {
			rec.Used = true
			rec.UsedAt = &at
			return true, nil
		}
	}
	return false, nil
}

func (s *memBackups) CountUnused(_ context.Context, userID UserID) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	n := 0
	for _, rec := range s.db.backups[userID] {
		if !rec.Used {
			n++
		}
	}
	return n, nil
}

type memAttempts struct{ db *memDB }

func (s *memAttempts) Append(_ context.Context, rec *LoginAttemptRecord) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	cp := *rec
	s.db.attempts = append(s.db.attempts, &cp)
	return nil
}

func (s *memAttempts) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var kept []*LoginAttemptRecord
	var n int64
	for _, rec := range s.db.attempts {
		if rec.At.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, rec)
	}
	s.db.attempts = kept
	return n, nil
}

type memApprovals struct{ db *memDB }

func (s *memApprovals) Create(_ context.Context, rec *ApprovalRequestRecord) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	cp := *rec
	s.db.approvals[rec.ID] = &cp
	return nil
}

func (s *memApprovals) Get(_ context.Context, id ApprovalID) (*ApprovalRequestRecord, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	rec, ok := s.db.approvals[id]
	if !ok {
		return nil, ErrApprovalNotPending
	}
	cp := *rec
	return &cp, nil
}

func (s *memApprovals) Resolve(_ context.Context, id ApprovalID, status ApprovalStatus, responder UserID, at time.Time) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	rec, ok := s.db.approvals[id]
	if !ok || rec.Status != ApprovalPending || !at.Before(rec.ExpiresAt) {
		return false, nil
	}
	rec.Status = status
	rec.ResponderID = &responder
	rec.RespondedAt = &at
	return true, nil
}

func (s *memApprovals) ConsumeApproved(_ context.Context, id ApprovalID, childID UserID) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	rec, ok := s.db.approvals[id]
	if !ok || rec.ChildID != childID || rec.Status != ApprovalApproved {
		return false, nil
	}
	rec.Status = ApprovalUsed
	return true, nil
}

func (s *memApprovals) CountOpenForChild(_ context.Context, childID UserID, since time.Time) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	n := 0
	for _, rec := range s.db.approvals {
		if rec.ChildID == childID && rec.Status == ApprovalPending && !rec.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *memApprovals) ListPendingForFamily(_ context.Context, familyID FamilyID, now time.Time) ([]ApprovalRequestRecord, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []ApprovalRequestRecord
	for _, rec := range s.db.approvals {
		if rec.FamilyID == familyID && rec.Status == ApprovalPending && now.Before(rec.ExpiresAt) {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (s *memApprovals) ExpireOld(_ context.Context, now time.Time) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var n int64
	for _, rec := range s.db.approvals {
		if rec.Status == ApprovalPending && !now.Before(rec.ExpiresAt) {
			rec.Status = ApprovalExpired
			n++
		}
	}
	return n, nil
}

func (s *memApprovals) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var n int64
	for id, rec := range s.db.approvals {
		if rec.Status != ApprovalPending && rec.CreatedAt.Before(cutoff) {
			delete(s.db.approvals, id)
			n++
		}
	}
	return n, nil
}

// plainHasher keeps engine tests fast and deterministic; the real Argon2
// implementation has its own package tests.
type plainHasher struct{}

func (plainHasher) Hash(secret string) (string, error) { return "plain:" + secret, nil }

func (plainHasher) Verify(secret, digest string) (bool, error) {
	return digest == "plain:"+secret, nil
}

func (plainHasher) DummyVerify() {}

// testClock is a swappable time source shared between test and engine.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.SigningMethod = "hs256"
	cfg.Token.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.TOTP.SecretKey = []byte("totp-sealing-key-totp-sealing-ke")
	cfg.Lockout.MaxFailedAttempts = 3
	cfg.Lockout.LockoutDuration = 15 * time.Minute
	cfg.Lockout.IdentifierMaxAttempts = 100
	return cfg
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *memDB, *testClock, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	db := newMemDB()
	clock := newTestClock()

	engine, err := NewBuilder().
		WithConfig(cfg).
		WithRedis(client).
		WithStores(db.stores()).
		WithHasher(plainHasher{}).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	done := func() {
		engine.Close()
		_ = client.Close()
		mr.Close()
	}
	return engine, db, clock, done
}

// totpCodeFor computes the code a user's authenticator would show.
func totpCodeFor(t *testing.T, cfg TOTPConfig, secretBase32 string, at time.Time) string {
	t.Helper()
	secret, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secretBase32)
	if err != nil {
		t.Fatalf("decode totp secret: %v", err)
	}
	return hotpCode(secret, at.Unix()/int64(cfg.Period), cfg.Digits)
}

// setupParent registers a parent and completes TOTP onboarding, returning
// the account, its authenticator secret, and the first backup code batch.
func setupParent(t *testing.T, engine *Engine, clock *testClock, email, password string) (*RegistrationResult, string, []string) {
	t.Helper()
	ctx := context.Background()

	reg, err := engine.RegisterParent(ctx, email, password, "Parent")
	if err != nil {
		t.Fatalf("RegisterParent failed: %v", err)
	}
	setup, err := engine.BeginTOTPSetup(ctx, reg.MFASetupToken)
	if err != nil {
		t.Fatalf("BeginTOTPSetup failed: %v", err)
	}
	code := totpCodeFor(t, engine.config.TOTP, setup.SecretBase32, clock.Now())
	backupCodes, err := engine.ConfirmTOTPSetup(ctx, reg.MFASetupToken, code)
	if err != nil {
		t.Fatalf("ConfirmTOTPSetup failed: %v", err)
	}
	return reg, setup.SecretBase32, backupCodes
}

// loginParentFull drives password login plus TOTP verification. The clock
// is stepped past the replay window so consecutive logins use fresh steps.
func loginParentFull(t *testing.T, engine *Engine, clock *testClock, email, password, secretBase32 string) *LoginResult {
	t.Helper()
	ctx := context.Background()

	clock.Advance(time.Duration(engine.config.TOTP.Period*(2*engine.config.TOTP.Skew+2)) * time.Second)

	pending, err := engine.LoginParent(ctx, AdultCredential{Email: email, Password: password})
	if err != nil {
		t.Fatalf("LoginParent failed: %v", err)
	}
	if !pending.RequiresMFA {
		t.Fatal("expected MFA-pending result")
	}
	code := totpCodeFor(t, engine.config.TOTP, secretBase32, clock.Now())
	res, err := engine.VerifyMFA(ctx, pending.MFAToken, MFATOTP, MFAEvidence{Code: code})
	if err != nil {
		t.Fatalf("VerifyMFA failed: %v", err)
	}
	return res
}
