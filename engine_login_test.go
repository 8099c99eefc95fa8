package authcore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLoginWithoutTwoFactorIssuesSession(t *testing.T) {
	env := newTestEngine(t, nil)

	result, err := env.engine.Login(context.Background(), "alice", testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if result.OTPRequired {
		t.Fatal("expected no OTP challenge for a non-2FA identity")
	}
	if result.SessionToken == "" {
		t.Fatal("expected a session token")
	}
	if result.ExpiresAt.IsZero() {
		t.Fatal("expected a session expiry")
	}

	info, err := env.engine.ValidateSession(context.Background(), result.SessionToken)
	if err != nil {
		t.Fatalf("ValidateSession failed: %v", err)
	}
	if info.UserID != "u-alice" || info.Username != "alice" {
		t.Fatalf("unexpected session identity: %+v", info)
	}

	events := waitAudit(t, env.engine, AuditQuery{UserID: "u-alice"}, 2)
	got := eventTypes(events)
	if got[0] != "login_success" || got[1] != "session_issued" {
		t.Fatalf("expected [login_success session_issued], got %v", got)
	}
	if !events[0].Success {
		t.Fatal("login_success event must be marked successful")
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	env := newTestEngine(t, nil)

	_, unknownErr := env.engine.Login(context.Background(), "mallory", testPassword)
	_, wrongErr := env.engine.Login(context.Background(), "alice", "not-the-password")

	if !errors.Is(unknownErr, ErrInvalidCredentials) {
		t.Fatalf("unknown identity: expected ErrInvalidCredentials, got %v", unknownErr)
	}
	if !errors.Is(wrongErr, ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", wrongErr)
	}
	if unknownErr.Error() != wrongErr.Error() {
		t.Fatal("unknown-identity and wrong-password errors must be identical to the caller")
	}

	// The audit log is where the distinction lives.
	events := waitAudit(t, env.engine, AuditQuery{EventTypes: []string{"login_failure"}}, 2)
	codes := map[string]bool{}
	for _, e := range events {
		codes[e.Error] = true
	}
	if !codes["unknown_identity"] || !codes["invalid_credentials"] {
		t.Fatalf("expected both failure codes in the log, got %v", codes)
	}
	for _, e := range events {
		if e.EventType == "login_failure" && e.Error == "unknown_identity" && e.UserID != "" {
			t.Fatal("unknown-identity failures must not carry a user ID")
		}
	}
}

func TestLoginDisabledAccountRejected(t *testing.T) {
	env := newTestEngine(t, nil)

	if err := env.provider.SetActive(context.Background(), "u-alice", false); err != nil {
		t.Fatal(err)
	}

	_, err := env.engine.Login(context.Background(), "alice", testPassword)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for a disabled account, got %v", err)
	}

	events := waitAudit(t, env.engine, AuditQuery{UserID: "u-alice"}, 1)
	if events[0].EventType != "login_failure" || events[0].Error != "account_disabled" {
		t.Fatalf("expected account_disabled failure event, got %+v", events[0])
	}
}

func TestLoginRateLimitSlidingWindow(t *testing.T) {
	env := newTestEngine(t, func(cfg *Config) {
		cfg.Login.MaxAttempts = 3
		cfg.Login.Window = time.Minute
	})

	for i := 0; i < 3; i++ {
		if _, err := env.engine.Login(context.Background(), "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}

	// Fourth attempt exceeds the window, even with the right password.
	_, err := env.engine.Login(context.Background(), "alice", testPassword)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	var rl *RateLimitError
	if !errors.As(err, &rl) || rl.RetryAfter <= 0 {
		t.Fatalf("expected a positive retry-after, got %v", err)
	}

	events := waitAudit(t, env.engine, AuditQuery{EventTypes: []string{"rate_limited"}}, 1)
	if len(events) != 1 {
		t.Fatalf("expected exactly one rate_limited event, got %d", len(events))
	}
	if events[0].Metadata["retry_after"] == "" {
		t.Fatal("rate_limited event must carry retry_after metadata")
	}
}

func TestLoginSuccessResetsWindow(t *testing.T) {
	env := newTestEngine(t, func(cfg *Config) {
		cfg.Login.MaxAttempts = 3
	})

	for i := 0; i < 2; i++ {
		_, _ = env.engine.Login(context.Background(), "alice", "wrong")
	}
	if _, err := env.engine.Login(context.Background(), "alice", testPassword); err != nil {
		t.Fatalf("expected login within budget to succeed, got %v", err)
	}

	// Success cleared the window; a fresh budget is available.
	for i := 0; i < 2; i++ {
		if _, err := env.engine.Login(context.Background(), "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("post-reset attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}
}

func TestLoginLockoutDeactivatesAccount(t *testing.T) {
	env := newTestEngine(t, func(cfg *Config) {
		cfg.Lockout.Enabled = true
		cfg.Lockout.Threshold = 3
	})

	for i := 0; i < 2; i++ {
		if _, err := env.engine.Login(context.Background(), "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}

	_, err := env.engine.Login(context.Background(), "alice", "wrong")
	if !errors.Is(err, ErrLockout) {
		t.Fatalf("expected ErrLockout on threshold, got %v", err)
	}
	if env.provider.get("u-alice").Active {
		t.Fatal("expected the account to be deactivated")
	}

	// Even the right password is rejected afterwards.
	if _, err := env.engine.Login(context.Background(), "alice", testPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials after lockout, got %v", err)
	}

	events := waitAudit(t, env.engine, AuditQuery{EventTypes: []string{"lockout"}}, 1)
	if events[0].UserID != "u-alice" {
		t.Fatalf("lockout event bound to wrong identity: %+v", events[0])
	}
}

func TestLoginEmailOTPOpensChallenge(t *testing.T) {
	env := newTestEngine(t, nil)

	result, err := env.engine.Login(context.Background(), "bob", testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !result.OTPRequired || result.OTPMethod != OTPMethodEmail {
		t.Fatalf("expected an email OTP challenge, got %+v", result)
	}
	if result.SessionToken != "" {
		t.Fatal("no session may be issued before the second factor")
	}
	if !result.OTPDelivered {
		t.Fatal("expected the code to be delivered")
	}
	if !strings.HasPrefix(result.OTPDestination, "b***@") {
		t.Fatalf("expected masked destination, got %q", result.OTPDestination)
	}

	code := env.gateway.lastCode(t)
	if len(code) != 6 {
		t.Fatalf("expected a 6-digit code, got %q", code)
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			t.Fatalf("code must be numeric, got %q", code)
		}
	}

	events := waitAudit(t, env.engine, AuditQuery{UserID: "u-bob"}, 1)
	if events[0].EventType != "otp_issued" || events[0].Channel != "email" {
		t.Fatalf("expected email otp_issued event, got %+v", events[0])
	}
}

func TestLoginDeliveryFailureIsNonFatal(t *testing.T) {
	env := newTestEngine(t, nil)
	env.gateway.setFail(true)

	result, err := env.engine.Login(context.Background(), "bob", testPassword)
	if err != nil {
		t.Fatalf("delivery failure must not fail the login step: %v", err)
	}
	if !result.OTPRequired || result.OTPDelivered {
		t.Fatalf("expected an undelivered challenge, got %+v", result)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricDeliveryFailure]; got != 1 {
		t.Fatalf("expected one delivery failure counted, got %d", got)
	}

	// The challenge is live; resend succeeds once the gateway recovers.
	env.gateway.setFail(false)
	resent, err := env.engine.ResendOTP(context.Background(), "bob")
	if err != nil {
		t.Fatalf("ResendOTP failed: %v", err)
	}
	if !resent.OTPDelivered {
		t.Fatal("expected the resent code to be delivered")
	}

	if _, err := env.engine.ConfirmOTP(context.Background(), "bob", env.gateway.lastCode(t)); err != nil {
		t.Fatalf("ConfirmOTP after resend failed: %v", err)
	}
}

func TestLoginPerIPThrottle(t *testing.T) {
	env := newTestEngine(t, func(cfg *Config) {
		cfg.Login.MaxAttempts = 2
	})

	ctx := WithClientIP(context.Background(), "203.0.113.7")

	// Different usernames, same source address.
	_, _ = env.engine.Login(ctx, "alice", "wrong")
	_, _ = env.engine.Login(ctx, "bob", "wrong")

	_, err := env.engine.Login(ctx, "carol", "wrong")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected the shared IP window to reject, got %v", err)
	}
}
