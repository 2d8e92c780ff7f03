package authgate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRegisterConfirmLogin(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()
	ctx := context.Background()

	creds := newMockCreds(t)
	sender := newMockSender()
	engine := newTestEngine(t, rdb, creds, sender)

	err := engine.Register(ctx, RegisterInput{
		Name:     "Alice",
		Surname:  "Walker",
		Email:    "alice@example.com",
		Password: "correct-horse",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	user := creds.userByEmail("alice@example.com")
	if user == nil {
		t.Fatal("user was not created")
	}
	if user.EmailConfirmed {
		t.Fatal("fresh registration must be unconfirmed")
	}
	if len(user.Roles) != 1 || user.Roles[0] != "user" {
		t.Fatalf("expected default role, got %v", user.Roles)
	}
	if user.PasswordHash == "" || user.PasswordHash == "correct-horse" {
		t.Fatal("password must be stored hashed")
	}

	mail := sender.last(t)
	if mail.To != "alice@example.com" || mail.Template != "email-confirmation" {
		t.Fatalf("unexpected confirmation mail %+v", mail)
	}
	token := tokenFromLink(t, mail.Data["URL"], "/auth/confirm/")

	// Login before confirmation is rejected.
	if _, err := engine.Login(ctx, LoginInput{Email: "alice@example.com", Password: "correct-horse", IP: "10.0.0.1"}); !errors.Is(err, ErrEmailNotConfirmed) {
		t.Fatalf("expected ErrEmailNotConfirmed, got %v", err)
	}

	if err := engine.ConfirmEmail(ctx, token); err != nil {
		t.Fatalf("ConfirmEmail failed: %v", err)
	}
	if _, err := engine.Login(ctx, LoginInput{Email: "alice@example.com", Password: "correct-horse", IP: "10.0.0.2"}); err != nil {
		t.Fatalf("Login after confirmation failed: %v", err)
	}

	// The confirmation token is single use.
	if err := engine.ConfirmEmail(ctx, token); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("second ConfirmEmail must fail, got %v", err)
	}

	snap := engine.MetricsSnapshot()
	if snap.Counters[MetricRegistrationCreated] != 1 || snap.Counters[MetricEmailConfirmed] != 1 {
		t.Fatalf("unexpected metrics %v", snap.Counters)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()
	ctx := context.Background()

	deletedAt := time.Now()
	creds := newMockCreds(t,
		testUser{email: "alice@example.com", password: "pw-123456", confirmed: true},
		testUser{email: "gone@example.com", password: "pw-123456", confirmed: true, deletedAt: &deletedAt},
	)
	engine := newTestEngine(t, rdb, creds, newMockSender())

	err := engine.Register(ctx, RegisterInput{Email: "alice@example.com", Password: "other-pw-123"})
	if !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}

	// Soft-deleted accounts still occupy their email.
	err = engine.Register(ctx, RegisterInput{Email: "gone@example.com", Password: "other-pw-123"})
	if !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists for deleted account, got %v", err)
	}

	if got := engine.MetricsSnapshot().Counters[MetricRegistrationDuplicate]; got != 2 {
		t.Fatalf("expected 2 duplicate metrics, got %d", got)
	}
}

func TestRegisterNotificationFailure(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()
	ctx := context.Background()

	creds := newMockCreds(t)
	sender := newMockSender()
	sender.failWith = errors.New("smtp connection refused")
	engine := newTestEngine(t, rdb, creds, sender)

	err := engine.Register(ctx, RegisterInput{Email: "alice@example.com", Password: "correct-horse"})
	if !errors.Is(err, ErrNotificationFailed) {
		t.Fatalf("expected ErrNotificationFailed, got %v", err)
	}

	// The account and its confirmation token exist despite the failed mail.
	if creds.userByEmail("alice@example.com") == nil {
		t.Fatal("account must be created even when the email fails")
	}
}

func tokenFromLink(t *testing.T, url, marker string) string {
	t.Helper()

	idx := strings.Index(url, marker)
	if idx < 0 {
		t.Fatalf("link %q does not contain %q", url, marker)
	}
	token := url[idx+len(marker):]
	if token == "" {
		t.Fatalf("link %q carries no token", url)
	}
	return token
}
