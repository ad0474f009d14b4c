package token

import (
	"errors"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestTenantID(t *testing.T) {
	t.Run("ExtractsTenant", func(t *testing.T) {
		s := signedToken(t, jwt.MapClaims{
			"sub":            "user-1",
			"organizationId": "acme",
		})

		tenant, err := TenantID(s)
		if err != nil {
			t.Fatalf("TenantID: %v", err)
		}
		if tenant != "acme" {
			t.Errorf("TenantID = %q, want acme", tenant)
		}
	})

	t.Run("MissingClaim", func(t *testing.T) {
		s := signedToken(t, jwt.MapClaims{"sub": "user-1"})

		if _, err := TenantID(s); !errors.Is(err, ErrNoTenant) {
			t.Errorf("TenantID error = %v, want ErrNoTenant", err)
		}
	})

	t.Run("NonStringClaim", func(t *testing.T) {
		s := signedToken(t, jwt.MapClaims{"organizationId": 42})

		if _, err := TenantID(s); !errors.Is(err, ErrNoTenant) {
			t.Errorf("TenantID error = %v, want ErrNoTenant", err)
		}
	})

	t.Run("Garbage", func(t *testing.T) {
		if _, err := TenantID("not-a-token"); err == nil {
			t.Error("expected error for malformed token")
		}
	})
}
