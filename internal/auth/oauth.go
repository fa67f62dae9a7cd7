package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const githubAPIBase = "https://api.github.com"

// GitHubUser is the part of GET /user that sign-in uses.
type GitHubUser struct {
	ID        int64  `json:"id"`    // stable, survives username changes
	Login     string `json:"login"` // username
	Name      string `json:"name"`  // display name, often empty
	AvatarURL string `json:"avatar_url"`
}

// DisplayName is the nickname a new chat account starts with: the GitHub
// display name when set, the login otherwise.
func (u *GitHubUser) DisplayName() string {
	if name := strings.TrimSpace(u.Name); name != "" {
		return name
	}
	return u.Login
}

// GitHubProvider runs the Authorization Code flow against GitHub and
// resolves the signed-in GitHub profile.
//
// THE FLOW:
//  1. /auth/github/login redirects to AuthURL(state); state also goes into a cookie.
//  2. GitHub sends the browser back to the callback with ?code=...&state=...
//  3. The callback checks state against the cookie and calls Exchange.
//  4. Exchange trades the code for an access token (server to server, using
//     the client secret) and reads /user with it.
//
// The access token is used once and dropped. Chat sessions run on our own JWT.
type GitHubProvider struct {
	config  *oauth2.Config
	apiBase string
}

// NewGitHubProvider creates a provider for a registered GitHub OAuth App.
// callbackURL must equal the App's "Authorization callback URL".
// Only read:user is requested; the chat account has no use for email.
func NewGitHubProvider(clientID, clientSecret, callbackURL string) *GitHubProvider {
	return &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"read:user"},
			Endpoint:     github.Endpoint,
		},
		apiBase: githubAPIBase,
	}
}

// WithBaseURLs points the provider at another OAuth server and API root,
// such as GitHub Enterprise or a test server.
func (p *GitHubProvider) WithBaseURLs(oauthBase, apiBase string) *GitHubProvider {
	oauthBase = strings.TrimRight(oauthBase, "/")
	cfg := *p.config
	cfg.Endpoint = oauth2.Endpoint{
		AuthURL:  oauthBase + "/login/oauth/authorize",
		TokenURL: oauthBase + "/login/oauth/access_token",
	}
	return &GitHubProvider{config: &cfg, apiBase: strings.TrimRight(apiBase, "/")}
}

// AuthURL returns the GitHub consent URL carrying state.
func (p *GitHubProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades an authorization code for the GitHub profile of the user
// who granted it.
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*GitHubUser, error) {
	if code == "" {
		return nil, fmt.Errorf("auth: empty OAuth code")
	}

	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging OAuth code: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBase+"/user", nil)
	if err != nil {
		return nil, fmt.Errorf("auth: building /user request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	// The client adds "Authorization: Bearer <token>" to every request.
	resp, err := p.config.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: calling GitHub /user: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: GitHub /user returned status %d", resp.StatusCode)
	}

	var user GitHubUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("auth: decoding GitHub /user: %w", err)
	}
	if user.ID == 0 {
		return nil, fmt.Errorf("auth: GitHub returned a user without an id")
	}
	return &user, nil
}
