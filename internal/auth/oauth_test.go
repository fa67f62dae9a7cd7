package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGitHub serves the token endpoint and /user. Only code "good" is
// accepted; user is what /user returns.
func fakeGitHub(t *testing.T, user map[string]any, userStatus int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("code") != "good" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "bad_verification_code"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"access_token": "gho_test",
			"token_type":   "bearer",
		})
	})
	mux.HandleFunc("GET /api/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer gho_test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(userStatus)
		_ = json.NewEncoder(w).Encode(user)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newFakeProvider(srv *httptest.Server) *GitHubProvider {
	return NewGitHubProvider("client-id", "client-secret", "http://localhost/auth/github/callback").
		WithBaseURLs(srv.URL, srv.URL+"/api")
}

func TestGitHubProvider_Exchange(t *testing.T) {
	srv := fakeGitHub(t, map[string]any{
		"id":         42,
		"login":      "octocat",
		"name":       "The Octocat",
		"avatar_url": "https://avatars.example/42",
	}, http.StatusOK)
	p := newFakeProvider(srv)

	user, err := p.Exchange(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, int64(42), user.ID)
	assert.Equal(t, "octocat", user.Login)
	assert.Equal(t, "https://avatars.example/42", user.AvatarURL)
	assert.Equal(t, "The Octocat", user.DisplayName())
}

func TestGitHubProvider_ExchangeFailures(t *testing.T) {
	tests := []struct {
		name   string
		code   string
		user   map[string]any
		status int
	}{
		{name: "empty code", code: "", user: map[string]any{"id": 1}, status: http.StatusOK},
		{name: "rejected code", code: "bad", user: map[string]any{"id": 1}, status: http.StatusOK},
		{name: "api error", code: "good", user: map[string]any{}, status: http.StatusForbidden},
		{name: "missing id", code: "good", user: map[string]any{"login": "ghost"}, status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakeProvider(fakeGitHub(t, tt.user, tt.status))
			_, err := p.Exchange(context.Background(), tt.code)
			assert.Error(t, err)
		})
	}
}

func TestGitHubProvider_AuthURL(t *testing.T) {
	p := NewGitHubProvider("client-id", "secret", "http://localhost:8080/auth/github/callback")

	u, err := url.Parse(p.AuthURL("state-123"))
	require.NoError(t, err)
	assert.Equal(t, "github.com", u.Host)

	q := u.Query()
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "state-123", q.Get("state"))
	assert.Equal(t, "read:user", q.Get("scope"))
	assert.Equal(t, "http://localhost:8080/auth/github/callback", q.Get("redirect_uri"))
}

func TestGitHubUser_DisplayName(t *testing.T) {
	assert.Equal(t, "octocat", (&GitHubUser{Login: "octocat", Name: "  "}).DisplayName())
	assert.Equal(t, "Mona", (&GitHubUser{Login: "octocat", Name: "Mona"}).DisplayName())
}
