package auth

import (
	"errors"
	"testing"
	"time"
)

const testSecret = "test-secret-key-for-jwt-signing"

func TestIssueAndParseToken(t *testing.T) {
	token, err := IssueToken(testSecret, "graycast", "engine", RoleOperator, 15*time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	claims, err := ParseToken(token, testSecret, "graycast")
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}

	if claims.Subject != "engine" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "engine")
	}
	if claims.Role != RoleOperator {
		t.Errorf("Role = %q, want %q", claims.Role, RoleOperator)
	}
	if claims.ID == "" {
		t.Error("JTI (ID) should not be empty")
	}
	if claims.ExpiresAt == nil || claims.ExpiresAt.Time.Before(time.Now()) {
		t.Error("token should carry a future expiry")
	}
}

func TestIssueToken_NoExpiry(t *testing.T) {
	token, err := IssueToken(testSecret, "", "engine", RoleViewer, 0)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(token, testSecret, "")
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.ExpiresAt != nil {
		t.Errorf("ExpiresAt = %v, want none", claims.ExpiresAt)
	}
}

func TestIssueToken_Errors(t *testing.T) {
	if _, err := IssueToken("", "", "engine", RoleAdmin, time.Minute); !errors.Is(err, ErrNoSecret) {
		t.Errorf("empty secret error = %v, want ErrNoSecret", err)
	}
	if _, err := IssueToken(testSecret, "", "engine", "owner", time.Minute); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("bad role error = %v, want ErrInvalidRole", err)
	}
}

func TestParseToken_Rejects(t *testing.T) {
	valid, err := IssueToken(testSecret, "graycast", "engine", RoleAdmin, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	expired, err := IssueToken(testSecret, "graycast", "engine", RoleAdmin, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	anonymous, err := IssueToken(testSecret, "graycast", "", RoleAdmin, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		token  string
		secret string
		issuer string
	}{
		{"empty", "", testSecret, ""},
		{"garbage", "not-a-valid-jwt", testSecret, ""},
		{"malformed", "abc.def", testSecret, ""},
		{"wrong secret", valid, "wrong-secret", ""},
		{"wrong issuer", valid, testSecret, "someone-else"},
		{"no secret", valid, "", ""},
		{"expired", expired, testSecret, "graycast"},
		{"missing subject", anonymous, testSecret, "graycast"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToken(tt.token, tt.secret, tt.issuer)
			if !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}
