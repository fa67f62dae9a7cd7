package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/xid"

	"github.com/MsAiBoWithStar/linkin-chat/internal/apperror"
	"github.com/MsAiBoWithStar/linkin-chat/internal/auth"
	"github.com/MsAiBoWithStar/linkin-chat/internal/service"
)

const oauthStateCookie = "oauth_state"

// AuthHandler manages accounts: password registration and login, the
// GitHub OAuth flow, and the caller's own profile.
//
// Password clients get the token in the JSON body. The GitHub flow ends in
// a redirect, so it hands the token over as an HttpOnly cookie instead.
type AuthHandler struct {
	accounts *service.AccountService
	github   *auth.GitHubProvider // nil when GitHub sign-in is not configured
	tokenTTL time.Duration
	logger   *slog.Logger
}

func NewAuthHandler(
	accounts *service.AccountService,
	github *auth.GitHubProvider,
	tokenTTL time.Duration,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		accounts: accounts,
		github:   github,
		tokenTTL: tokenTTL,
		logger:   logger,
	}
}

type registerRequest struct {
	Nickname string `json:"nickname"`
	LinkCode string `json:"link_code"` // optional; generated when empty
	Password string `json:"password"`
}

// HandleRegister creates a password account.
//
// HTTP: POST /api/register
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.accounts.Register(r.Context(), req.Nickname, req.LinkCode, req.Password)
	if err != nil {
		writeServiceError(w, h.logger, "register", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type loginRequest struct {
	LinkCode string `json:"link_code"`
	Password string `json:"password"`
}

// HandleLogin exchanges a link code and password for a token.
//
// HTTP: POST /api/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.accounts.Login(r.Context(), req.LinkCode, req.Password)
	if err != nil {
		writeServiceError(w, h.logger, "login", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleGitHubLogin sends the browser to GitHub's consent page.
//
// HTTP: GET /auth/github/login
//
// The random state goes both into the redirect and into a ten minute
// cookie. GitHub echoes it back, and the callback refuses to continue
// unless the two match, so a callback URL forged by another site is useless.
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	state := xid.New().String()
	setCookie(w, r, oauthStateCookie, state, 10*time.Minute)
	http.Redirect(w, r, h.github.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGitHubCallback finishes GitHub sign-in and lands the browser on the
// app with a session cookie.
//
// HTTP: GET /auth/github/callback?code=xxx&state=yyy
func (h *AuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cookie, err := r.Cookie(oauthStateCookie)
	if err != nil || cookie.Value == "" || q.Get("state") != cookie.Value {
		h.logger.Warn("github callback: state missing or mismatched")
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}
	// single use
	setCookie(w, r, oauthStateCookie, "", -1)

	if denied := q.Get("error"); denied != "" {
		h.logger.Info("github callback: authorization denied", slog.String("error", denied))
		http.Redirect(w, r, "/?auth=denied", http.StatusSeeOther)
		return
	}
	code := q.Get("code")
	if code == "" {
		http.Error(w, "missing OAuth code", http.StatusBadRequest)
		return
	}

	ghUser, err := h.github.Exchange(r.Context(), code)
	if err != nil {
		// Usually an expired or replayed code. Not worth an Error line.
		h.logger.Warn("github callback: exchange failed", slog.String("error", err.Error()))
		http.Error(w, "authentication failed", http.StatusBadGateway)
		return
	}
	res, err := h.accounts.LoginOrRegisterGitHub(r.Context(), ghUser)
	if err != nil {
		h.logger.Error("github callback: sign-in failed",
			slog.Int64("githubID", ghUser.ID),
			slog.String("error", err.Error()),
		)
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}

	setCookie(w, r, auth.TokenCookie, res.Token, h.tokenTTL)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleLogout deletes the token cookie.
//
// HTTP: POST /auth/logout
//
// Tokens are not tracked server side, so the JWT itself stays valid until
// it expires. Bearer clients log out by forgetting it.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	setCookie(w, r, auth.TokenCookie, "", -1)
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// setCookie writes an HttpOnly, SameSite=Lax cookie on "/". A negative ttl
// deletes it. Secure is set when the request came over TLS.
func setCookie(w http.ResponseWriter, r *http.Request, name, value string, ttl time.Duration) {
	maxAge := int(ttl.Seconds())
	if ttl < 0 {
		maxAge = -1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
}

// HandleMe returns the currently authenticated user's profile.
//
// HTTP: GET /api/me
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	user, err := h.accounts.GetUserByID(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, "me", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// profileRequest uses pointers so "absent" and "set to empty" differ:
// {"avatar": ""} clears the avatar, a missing key keeps it.
type profileRequest struct {
	Nickname *string `json:"nickname"`
	Avatar   *string `json:"avatar"`
}

// HandleUpdateProfile edits nickname and avatar. Friends and the user's
// other sessions receive profile_updated.
//
// HTTP: PUT /api/profile
func (h *AuthHandler) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req profileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Nickname == nil && req.Avatar == nil {
		writeError(w, apperror.ValidationFailed("body", "nothing to update"))
		return
	}

	user, err := h.accounts.UpdateProfile(r.Context(), userID, service.ProfileUpdate{
		Nickname: req.Nickname,
		Avatar:   req.Avatar,
	})
	if err != nil {
		writeServiceError(w, h.logger, "update profile", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
