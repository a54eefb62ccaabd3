package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apiContext "klips/internal/api/context"
	"klips/internal/platform/auth"
	"klips/internal/platform/config"
	"klips/internal/platform/models"
	"klips/internal/platform/repositories"
)

type fakeKeyStore struct {
	keys map[string]*models.APIKey
	used []string
}

func (f *fakeKeyStore) GetByHash(_ context.Context, hash string) (*models.APIKey, error) {
	k, ok := f.keys[hash]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return k, nil
}

func (f *fakeKeyStore) UpdateLastUsed(_ context.Context, id string) error {
	f.used = append(f.used, id)
	return nil
}

func TestAuthMiddleware(t *testing.T) {
	tokens := auth.NewTokenService(config.JWTConfig{Secret: "test-secret", AccessTokenTTL: time.Hour})

	raw, hash, _, err := auth.GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey() error = %v", err)
	}
	revokedRaw, revokedHash, _, err := auth.GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey() error = %v", err)
	}
	revokedAt := time.Now().Add(-time.Minute).Unix()

	store := &fakeKeyStore{keys: map[string]*models.APIKey{
		hash:        {ID: "key_1", OrganizationID: "org_1", UserID: "usr_1", Role: auth.RoleAdmin},
		revokedHash: {ID: "key_2", OrganizationID: "org_1", UserID: "usr_1", Role: auth.RoleAdmin, RevokedAt: &revokedAt},
	}}
	m := NewAuthMiddleware(tokens, store)

	jwtToken, err := tokens.GenerateAccessToken("usr_9", "org_9", auth.RoleMember, "a@example.com")
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	tests := []struct {
		name     string
		header   string
		value    string
		wantCode int
		wantOrg  string
		wantKey  string
	}{
		{"bearer jwt", "Authorization", "Bearer " + jwtToken, http.StatusOK, "org_9", ""},
		{"x-api-key", "X-API-Key", raw, http.StatusOK, "org_1", "key_1"},
		{"bearer api key", "Authorization", "Bearer " + raw, http.StatusOK, "org_1", "key_1"},
		{"revoked key", "X-API-Key", revokedRaw, http.StatusUnauthorized, "", ""},
		{"unknown key", "X-API-Key", auth.APIKeyPrefix + "doesnotexist", http.StatusUnauthorized, "", ""},
		{"garbage token", "Authorization", "Bearer not-a-token", http.StatusUnauthorized, "", ""},
		{"wrong scheme", "Authorization", "Basic abc", http.StatusUnauthorized, "", ""},
		{"missing", "", "", http.StatusUnauthorized, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/webhooks", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}

			var got *auth.Claims
			rr := httptest.NewRecorder()
			m.Handle(func(w http.ResponseWriter, r *http.Request) {
				got, _ = r.Context().Value(apiContext.Claims).(*auth.Claims)
				w.WriteHeader(http.StatusOK)
			}).ServeHTTP(rr, req)

			if rr.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			if got == nil || got.OrganizationID != tt.wantOrg {
				t.Fatalf("claims = %+v, want org %s", got, tt.wantOrg)
			}
			if got.APIKeyID != tt.wantKey {
				t.Errorf("APIKeyID = %q, want %q", got.APIKeyID, tt.wantKey)
			}
		})
	}

	if len(store.used) != 2 {
		t.Errorf("UpdateLastUsed calls = %v, want two for key_1", store.used)
	}
}
