package authgate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/ecamli/authgate/geo"
)

func TestLoginSuccess(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()
	ctx := context.Background()

	creds := newMockCreds(t, testUser{email: "alice@example.com", password: "correct-horse", confirmed: true, roles: []string{"admin"}})
	engine := newTestEngine(t, rdb, creds, newMockSender())

	pair, err := engine.Login(ctx, LoginInput{Email: "alice@example.com", Password: "correct-horse", IP: "10.0.0.1"})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected a full token pair")
	}

	identity, err := engine.ValidateAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess failed: %v", err)
	}
	if identity.Email != "alice@example.com" {
		t.Fatalf("unexpected identity %+v", identity)
	}
	if len(identity.Roles) != 1 || identity.Roles[0] != "admin" {
		t.Fatalf("unexpected roles %v", identity.Roles)
	}

	if got := engine.MetricsSnapshot().Counters[MetricLoginSuccess]; got != 1 {
		t.Fatalf("expected 1 login success metric, got %d", got)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()
	ctx := context.Background()

	creds := newMockCreds(t, testUser{email: "alice@example.com", password: "correct-horse", confirmed: true})
	engine := newTestEngine(t, rdb, creds, newMockSender())

	_, err := engine.Login(ctx, LoginInput{Email: "alice@example.com", Password: "wrong", IP: "10.0.0.1"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if got := engine.MetricsSnapshot().Counters[MetricLoginFailure]; got != 1 {
		t.Fatalf("expected 1 login failure metric, got %d", got)
	}
}

func TestLoginUnknownAndDeletedAccounts(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()
	ctx := context.Background()

	deletedAt := time.Now()
	creds := newMockCreds(t, testUser{email: "gone@example.com", password: "pw-123456", confirmed: true, deletedAt: &deletedAt})
	engine := newTestEngine(t, rdb, creds, newMockSender())

	// Unknown email and soft-deleted account are indistinguishable.
	_, err := engine.Login(ctx, LoginInput{Email: "nobody@example.com", Password: "pw-123456", IP: "10.0.0.1"})
	if !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive for unknown email, got %v", err)
	}
	_, err = engine.Login(ctx, LoginInput{Email: "gone@example.com", Password: "pw-123456", IP: "10.0.0.1"})
	if !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive for deleted account, got %v", err)
	}
}

func TestLoginUnconfirmedEmail(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	creds := newMockCreds(t, testUser{email: "bob@example.com", password: "pw-123456", confirmed: false})
	engine := newTestEngine(t, rdb, creds, newMockSender())

	_, err := engine.Login(context.Background(), LoginInput{Email: "bob@example.com", Password: "pw-123456", IP: "10.0.0.1"})
	if !errors.Is(err, ErrEmailNotConfirmed) {
		t.Fatalf("expected ErrEmailNotConfirmed, got %v", err)
	}
	// Unconfirmed attempts still count toward escalation.
	if got := engine.MetricsSnapshot().Counters[MetricLoginFailure]; got != 1 {
		t.Fatalf("expected 1 login failure metric, got %d", got)
	}
}

func TestLoginCaptchaGate(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()
	ctx := context.Background()

	creds := newMockCreds(t, testUser{email: "alice@example.com", password: "correct-horse", confirmed: true})
	engine := newTestEngine(t, rdb, creds, newMockSender())

	failLoginTimes(t, engine, "alice@example.com", "10.0.0.1", 3, nil)

	// Fourth attempt without a captcha answer: rejected before credentials,
	// counter untouched.
	_, err := engine.Login(ctx, LoginInput{Email: "alice@example.com", Password: "correct-horse", IP: "10.0.0.1"})
	if !errors.Is(err, ErrCaptchaMismatch) {
		t.Fatalf("expected ErrCaptchaMismatch, got %v", err)
	}
	if got := engine.MetricsSnapshot().Counters[MetricLoginCaptchaRejected]; got != 1 {
		t.Fatalf("expected 1 captcha rejection metric, got %d", got)
	}
	if got := engine.MetricsSnapshot().Counters[MetricLoginFailure]; got != 3 {
		t.Fatalf("captcha mismatch must not count as a login failure, got %d", got)
	}

	// With the right answer the credential check runs and login succeeds.
	answer := pendingCaptcha(t, mr, "alice@example.com", "10.0.0.1")
	pair, err := engine.Login(ctx, LoginInput{
		Email:         "alice@example.com",
		Password:      "correct-horse",
		IP:            "10.0.0.1",
		CaptchaAnswer: answer,
	})
	if err != nil {
		t.Fatalf("Login with captcha failed: %v", err)
	}
	if pair.AccessToken == "" {
		t.Fatal("expected a token pair")
	}
}

func TestLoginLockout(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()
	ctx := context.Background()

	creds := newMockCreds(t, testUser{email: "alice@example.com", password: "correct-horse", confirmed: true})
	engine := newTestEngine(t, rdb, creds, newMockSender())

	failLoginTimes(t, engine, "alice@example.com", "10.0.0.1", 5, mr)

	// Locked out: even the correct password with a correct captcha answer is
	// rejected and the credential store never consulted.
	creds.failAllReads = true
	_, err := engine.Login(ctx, LoginInput{Email: "alice@example.com", Password: "correct-horse", IP: "10.0.0.1"})

	var tooMany *TooManyAttemptsError
	if !errors.As(err, &tooMany) {
		t.Fatalf("expected TooManyAttemptsError, got %v", err)
	}
	if !errors.Is(err, ErrTooManyAttempts) {
		t.Fatal("TooManyAttemptsError must unwrap to the sentinel")
	}
	if secs := tooMany.RetryAfterSeconds(); secs < 9*60 || secs > 10*60 {
		t.Fatalf("expected retry-after near 10 minutes, got %ds", secs)
	}
	if got := engine.MetricsSnapshot().Counters[MetricLoginThrottled]; got != 1 {
		t.Fatalf("expected 1 throttled metric, got %d", got)
	}

	// A different IP for the same account is unaffected.
	creds.failAllReads = false
	if _, err := engine.Login(ctx, LoginInput{Email: "alice@example.com", Password: "correct-horse", IP: "10.0.0.2"}); err != nil {
		t.Fatalf("other IP must not be locked: %v", err)
	}
}

func TestLoginSuccessResetsCounter(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()
	ctx := context.Background()

	creds := newMockCreds(t, testUser{email: "alice@example.com", password: "correct-horse", confirmed: true})
	engine := newTestEngine(t, rdb, creds, newMockSender())

	failLoginTimes(t, engine, "alice@example.com", "10.0.0.1", 2, nil)

	if _, err := engine.Login(ctx, LoginInput{Email: "alice@example.com", Password: "correct-horse", IP: "10.0.0.1"}); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	// The pair starts over: two old failures are gone, so four more are
	// needed before the captcha gate re-engages.
	failLoginTimes(t, engine, "alice@example.com", "10.0.0.1", 2, nil)
	if _, err := engine.Login(ctx, LoginInput{Email: "alice@example.com", Password: "correct-horse", IP: "10.0.0.1"}); err != nil {
		t.Fatalf("Login after reset failed: %v", err)
	}
}

func TestCaptchaChallenge(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()
	ctx := context.Background()

	creds := newMockCreds(t, testUser{email: "alice@example.com", password: "correct-horse", confirmed: true})
	engine := newTestEngine(t, rdb, creds, newMockSender())

	if _, err := engine.CaptchaChallenge(ctx, "alice@example.com", "10.0.0.1"); !errors.Is(err, ErrNoPendingCaptcha) {
		t.Fatalf("expected ErrNoPendingCaptcha before escalation, got %v", err)
	}

	failLoginTimes(t, engine, "alice@example.com", "10.0.0.1", 3, nil)

	img, err := engine.CaptchaChallenge(ctx, "alice@example.com", "10.0.0.1")
	if err != nil {
		t.Fatalf("CaptchaChallenge failed: %v", err)
	}
	if !strings.HasPrefix(img, "data:image/png;base64,") {
		t.Fatal("expected a base64 PNG data URI")
	}
}

func TestLoginEmitsAuditEvents(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()
	ctx := context.Background()

	sink := NewChannelSink(16)
	creds := newMockCreds(t, testUser{email: "alice@example.com", password: "correct-horse", confirmed: true})

	cfg := newTestConfig()
	cfg.Audit.Enabled = true
	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialStore(creds).
		WithEmailSender(newMockSender()).
		WithGeoResolver(staticGeo{}).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if _, err := engine.Login(ctx, LoginInput{Email: "alice@example.com", Password: "wrong", IP: "10.0.0.1"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	engine.Close()

	select {
	case event := <-sink.Events():
		if event.Action != "login_failed: invalid credentials" {
			t.Fatalf("unexpected action %q", event.Action)
		}
		if event.Outcome != OutcomeFailure {
			t.Fatalf("unexpected outcome %q", event.Outcome)
		}
		if event.Country != "Testland" || event.City != "Redis City" {
			t.Fatalf("expected geo-resolved event, got %+v", event)
		}
	default:
		t.Fatal("expected an audit event")
	}
}

// ---------------------------------------------------------------------------
// Shared test fixtures
// ---------------------------------------------------------------------------

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func newTestConfig() Config {
	cfg := DefaultConfig()
	cfg.AppURL = "https://admin.example.com"
	cfg.JWT.Secret = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Cost = bcrypt.MinCost
	cfg.Audit.Enabled = false
	return cfg
}

func newTestEngine(t *testing.T, rdb *redis.Client, creds *mockCreds, sender *mockSender) *Engine {
	t.Helper()

	engine, err := New().
		WithConfig(newTestConfig()).
		WithRedis(rdb).
		WithCredentialStore(creds).
		WithEmailSender(sender).
		WithPermissionSource(creds).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

// failLoginTimes records n failed attempts. When the captcha gate is already
// engaged the pending challenge is read back from miniredis, so the wrong
// password keeps reaching the credential check.
func failLoginTimes(t *testing.T, engine *Engine, email, ip string, n int, mr *miniredis.Miniredis) {
	t.Helper()

	for i := 0; i < n; i++ {
		input := LoginInput{Email: email, Password: "definitely-wrong", IP: ip}
		if mr != nil {
			if answer := mr.HGet("agl:"+email+":"+ip, "captcha"); answer != "" {
				input.CaptchaAnswer = answer
			}
		}
		_, err := engine.Login(context.Background(), input)
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}
}

func pendingCaptcha(t *testing.T, mr *miniredis.Miniredis, email, ip string) string {
	t.Helper()

	answer := mr.HGet("agl:"+email+":"+ip, "captcha")
	if answer == "" {
		t.Fatal("no pending captcha challenge in redis")
	}
	return answer
}

type testUser struct {
	email     string
	password  string
	confirmed bool
	deletedAt *time.Time
	roles     []string
	grants    []RoleGrant
}

// mockCreds is an in-memory CredentialStore and PermissionSource.
type mockCreds struct {
	mu           sync.Mutex
	users        map[string]*User
	byEmail      map[string]string
	grants       map[string][]RoleGrant
	nextID       int
	failAllReads bool
}

func newMockCreds(t *testing.T, seed ...testUser) *mockCreds {
	t.Helper()

	m := &mockCreds{
		users:   make(map[string]*User),
		byEmail: make(map[string]string),
		grants:  make(map[string][]RoleGrant),
	}
	for _, u := range seed {
		hash := ""
		if u.password != "" {
			raw, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.MinCost)
			if err != nil {
				t.Fatalf("seed hash failed: %v", err)
			}
			hash = string(raw)
		}
		created, err := m.Create(context.Background(), &User{
			Email:          u.email,
			PasswordHash:   hash,
			EmailConfirmed: u.confirmed,
			DeletedAt:      u.deletedAt,
			Roles:          u.roles,
		})
		if err != nil {
			t.Fatalf("seed failed: %v", err)
		}
		m.grants[created.ID] = u.grants
	}
	return m
}

func (m *mockCreds) Create(_ context.Context, user *User) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	clone := *user
	clone.ID = "u" + strconv.Itoa(m.nextID)
	m.users[clone.ID] = &clone
	m.byEmail[clone.Email] = clone.ID

	out := clone
	return &out, nil
}

func (m *mockCreds) FindByEmail(_ context.Context, email string, includeDeleted bool) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failAllReads {
		return nil, fmt.Errorf("credential store must not be called")
	}
	id, ok := m.byEmail[email]
	if !ok {
		return nil, nil
	}
	u := m.users[id]
	if u == nil || (!includeDeleted && u.Deleted()) {
		return nil, nil
	}
	clone := *u
	return &clone, nil
}

func (m *mockCreds) FindByID(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failAllReads {
		return nil, fmt.Errorf("credential store must not be called")
	}
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	clone := *u
	return &clone, nil
}

func (m *mockCreds) UpdatePasswordHash(_ context.Context, userID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("user %s not found", userID)
	}
	u.PasswordHash = passwordHash
	return nil
}

func (m *mockCreds) MarkEmailConfirmed(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("user %s not found", userID)
	}
	u.EmailConfirmed = true
	return nil
}

func (m *mockCreds) RolesWithPermissions(_ context.Context, userID string) ([]RoleGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.grants[userID], nil
}

func (m *mockCreds) setGrants(userID string, grants []RoleGrant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grants[userID] = grants
}

func (m *mockCreds) userByEmail(email string) *User {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byEmail[email]
	if !ok {
		return nil
	}
	clone := *m.users[id]
	return &clone
}

type sentMail struct {
	To       string
	Subject  string
	Template string
	Data     map[string]string
}

// mockSender records outgoing mail; set failWith to simulate delivery
// failures.
type mockSender struct {
	mu       sync.Mutex
	sent     []sentMail
	failWith error
}

func newMockSender() *mockSender {
	return &mockSender{}
}

func (s *mockSender) Send(_ context.Context, to, subject, templateName string, data map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWith != nil {
		return s.failWith
	}
	s.sent = append(s.sent, sentMail{To: to, Subject: subject, Template: templateName, Data: data})
	return nil
}

func (s *mockSender) last(t *testing.T) sentMail {
	t.Helper()

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		t.Fatal("no email was sent")
	}
	return s.sent[len(s.sent)-1]
}

func (s *mockSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type staticGeo struct{}

func (staticGeo) Lookup(string) geo.Location {
	return geo.Location{Country: "Testland", City: "Redis City"}
}
