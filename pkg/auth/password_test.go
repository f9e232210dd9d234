package auth

import (
	"errors"
	"testing"
)

func TestHashPasswordAndCheckPasswordBcrypt(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if hash == "" || hash == "s3cret" {
		t.Fatalf("expected opaque hash")
	}
	if !CheckPassword("s3cret", hash) {
		t.Fatalf("expected bcrypt password check to pass")
	}
	if CheckPassword("wrong", hash) {
		t.Fatalf("expected bcrypt password check to fail")
	}
}

func TestValidatePassword(t *testing.T) {
	if err := ValidatePassword("abcdef"); err != nil {
		t.Fatalf("expected valid password, got: %v", err)
	}
	if err := ValidatePassword("abc12"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected short password to fail, got %v", err)
	}
	if err := ValidatePassword("      "); !errors.Is(err, ErrPasswordBlank) {
		t.Fatalf("expected blank password to fail, got %v", err)
	}
}

func TestNormalizeEmail(t *testing.T) {
	got, err := NormalizeEmail("  Ana@Example.com ")
	if err != nil || got != "ana@example.com" {
		t.Fatalf("normalize = %q, %v", got, err)
	}
	for _, bad := range []string{"", "ana", "Ana <ana@example.com>"} {
		if _, err := NormalizeEmail(bad); !errors.Is(err, ErrInvalidEmail) {
			t.Fatalf("NormalizeEmail(%q) should fail, got %v", bad, err)
		}
	}
}
