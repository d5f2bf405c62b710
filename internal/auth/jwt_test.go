package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAdminTokenIssueRedeem(t *testing.T) {
	service := NewAdminTokenService("secret", time.Minute)
	token, err := service.Issue("c1")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if err := service.Redeem(token, "c1"); err != nil {
		t.Fatalf("Redeem() error = %v", err)
	}
	if err := service.Redeem(token, "c1"); !errors.Is(err, ErrTokenReplayed) {
		t.Fatalf("expected ErrTokenReplayed on second use, got %v", err)
	}
}

func TestAdminTokenChannelBinding(t *testing.T) {
	service := NewAdminTokenService("secret", time.Minute)
	token, err := service.Issue("c1")
	if err != nil {
		t.Fatal(err)
	}
	if err := service.Redeem(token, "c2"); !errors.Is(err, ErrChannelMismatch) {
		t.Fatalf("expected ErrChannelMismatch, got %v", err)
	}
	// A mismatch does not burn the token.
	if err := service.Redeem(token, "c1"); err != nil {
		t.Fatalf("Redeem() error = %v", err)
	}
}

func TestAdminTokenExpiry(t *testing.T) {
	service := NewAdminTokenService("secret", time.Minute)
	now := time.Now()
	service.now = func() time.Time { return now }
	token, err := service.Issue("c1")
	if err != nil {
		t.Fatal(err)
	}
	service.now = func() time.Time { return now.Add(2 * time.Minute) }
	if err := service.Redeem(token, "c1"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestAdminTokenWrongSecret(t *testing.T) {
	token, err := NewAdminTokenService("one", time.Minute).Issue("c1")
	if err != nil {
		t.Fatal(err)
	}
	if err := NewAdminTokenService("two", time.Minute).Redeem(token, "c1"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestAdminTokenDisabled(t *testing.T) {
	var service *AdminTokenService = NewAdminTokenService("", time.Minute)
	if service != nil {
		t.Fatal("expected nil service for empty secret")
	}
	if service.Validator() != nil {
		t.Fatal("expected nil validator when disabled")
	}
	if _, err := service.Issue("c1"); !errors.Is(err, ErrAuthDisabled) {
		t.Fatalf("expected ErrAuthDisabled, got %v", err)
	}
}

func TestAdminTokenValidator(t *testing.T) {
	service := NewAdminTokenService("secret", time.Minute)
	validate := service.Validator()
	token, _ := service.Issue("c1")
	if !validate(context.Background(), token, "c1") {
		t.Fatal("expected first use to validate")
	}
	if validate(context.Background(), token, "c1") {
		t.Fatal("expected replay to fail")
	}
}
