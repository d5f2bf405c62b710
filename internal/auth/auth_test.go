package auth

import (
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashAndVerifySecret(t *testing.T) {
	hash, err := HashSecretWithCost("s3cr3t", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashSecret() error = %v", err)
	}
	if hash == "s3cr3t" {
		t.Fatal("hash must not equal the secret")
	}

	tests := []struct {
		name   string
		secret string
		want   bool
	}{
		{"correct", "s3cr3t", true},
		{"wrong", "wrong", false},
		{"empty", "", false},
		{"prefix", "s3cr3", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifySecret(hash, tt.secret); got != tt.want {
				t.Errorf("VerifySecret(%q) = %v, want %v", tt.secret, got, tt.want)
			}
		})
	}
}

func TestHashSecretIsSalted(t *testing.T) {
	a, err := HashSecretWithCost("same", bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	b, err := HashSecretWithCost("same", bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("expected distinct salted hashes")
	}
}

func TestHashSecretRejectsEmpty(t *testing.T) {
	if _, err := HashSecret("  "); !errors.Is(err, ErrEmptySecret) {
		t.Fatalf("expected ErrEmptySecret, got %v", err)
	}
}

func TestVerifySecretMalformedHash(t *testing.T) {
	if VerifySecret("not-a-bcrypt-hash", "s3cr3t") {
		t.Fatal("malformed hash must not verify")
	}
}
