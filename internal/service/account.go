package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/MsAiBoWithStar/linkin-chat/internal/apperror"
	"github.com/MsAiBoWithStar/linkin-chat/internal/auth"
	"github.com/MsAiBoWithStar/linkin-chat/internal/model"
	"github.com/MsAiBoWithStar/linkin-chat/internal/repository"
)

const MaxNicknameLength = 64

// AccountService handles accounts: registration, sign-in and profiles.
// It sits between the HTTP handlers and the repository/auth utilities:
//
//	AuthHandler (HTTP) → AccountService (business rules) → Store (DB)
//	                   ↘ TokenService (JWT), PasswordService (bcrypt)
//
// DEPENDENCIES (injected via NewAccountService):
//   - store      repository.Store        → read/write user records
//   - tokens     *auth.TokenService      → issues JWTs
//   - passwords  *auth.PasswordService   → bcrypt hashing
//   - notify     Notifier                → profile_updated pushes
//   - logger     *slog.Logger            → structured logging
type AccountService struct {
	store     repository.Store
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	notify    Notifier
	logger    *slog.Logger
}

func NewAccountService(
	store repository.Store,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	notify Notifier,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		store:     store,
		tokens:    tokens,
		passwords: passwords,
		notify:    notify,
		logger:    logger,
	}
}

// AuthResult bundles the user record and the issued JWT so the handler can
// set the cookie and respond in one step.
type AuthResult struct {
	User  *model.User `json:"user"`
	Token string      `json:"token"`
}

func normalizeNickname(nickname string) (string, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return "", apperror.ValidationFailed("nickname", "nickname is required")
	}
	if utf8.RuneCountInString(nickname) > MaxNicknameLength {
		return "", apperror.ValidationFailed("nickname",
			fmt.Sprintf("nickname must be %d characters or less", MaxNicknameLength))
	}
	return nickname, nil
}

// Register creates a password account. linkCode is optional: when empty a
// free one is generated, when given it must be eight digits and unused.
func (s *AccountService) Register(ctx context.Context, nickname, linkCode, password string) (*AuthResult, error) {
	nickname, err := normalizeNickname(nickname)
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, apperror.ValidationFailed("password", "password is required")
	}
	if len(password) > auth.MaxPasswordBytes {
		return nil, apperror.ValidationFailed("password",
			fmt.Sprintf("password must be %d bytes or fewer", auth.MaxPasswordBytes))
	}

	linkCode = strings.TrimSpace(linkCode)
	if linkCode != "" && !ValidLinkCode(linkCode) {
		return nil, apperror.ValidationFailed("link_code", "link code must be exactly 8 digits")
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("service/account: %w", err)
	}

	user := &model.User{Nickname: nickname, PasswordHash: hash}
	err = s.store.InTx(ctx, func(q repository.Queries) error {
		if linkCode == "" {
			code, err := generateLinkCode(ctx, q)
			if err != nil {
				return err
			}
			user.LinkCode = code
		} else {
			user.LinkCode = linkCode
		}
		// A taken code surfaces as ErrConflict (link_code_taken).
		return q.CreateUser(ctx, user)
	})
	if err != nil {
		return nil, fmt.Errorf("service/account: registering %q: %w", nickname, err)
	}

	s.logger.Info("user registered",
		slog.Int64("userID", user.ID),
		slog.String("linkCode", user.LinkCode),
	)
	return s.issue(user)
}

// Login checks a link code and password. Every failure looks the same to
// the caller (bad_credentials) so link codes cannot be probed.
func (s *AccountService) Login(ctx context.Context, linkCode, password string) (*AuthResult, error) {
	linkCode = strings.TrimSpace(linkCode)
	if linkCode == "" {
		return nil, apperror.ValidationFailed("link_code", "link code is required")
	}
	if password == "" {
		return nil, apperror.ValidationFailed("password", "password is required")
	}

	badCredentials := apperror.Unauthorized(apperror.ReasonBadCredentials, "wrong link code or password")

	user, err := s.store.GetUserByLinkCode(ctx, linkCode)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.passwords.VerifyNothing(password)
			return nil, badCredentials
		}
		return nil, fmt.Errorf("service/account: looking up %s: %w", linkCode, err)
	}
	if user.PasswordHash == "" {
		s.passwords.VerifyNothing(password)
		return nil, badCredentials
	}
	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, badCredentials
		}
		return nil, fmt.Errorf("service/account: %w", err)
	}

	s.logger.Info("user logged in", slog.Int64("userID", user.ID))
	return s.issue(user)
}

// LoginOrRegisterGitHub handles the GitHub OAuth callback.
//
// First sign-in creates an account keyed by the GitHub id with a generated
// link code, the GitHub display name (or login) as nickname and the GitHub
// avatar. Later sign-ins reuse that account and leave its profile alone:
// the user may have edited it since.
func (s *AccountService) LoginOrRegisterGitHub(ctx context.Context, ghUser *auth.GitHubUser) (*AuthResult, error) {
	if ghUser == nil {
		return nil, fmt.Errorf("service/account: GitHub user must not be nil")
	}

	var user *model.User
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		existing, err := q.GetUserByGitHubID(ctx, ghUser.ID)
		if err == nil {
			user = existing
			return nil
		}
		if !errors.Is(err, apperror.ErrNotFound) {
			return err
		}

		nickname := ghUser.DisplayName()
		if utf8.RuneCountInString(nickname) > MaxNicknameLength {
			nickname = string([]rune(nickname)[:MaxNicknameLength])
		}
		code, err := generateLinkCode(ctx, q)
		if err != nil {
			return err
		}
		user = &model.User{
			LinkCode: code,
			Nickname: nickname,
			Avatar:   ghUser.AvatarURL,
			GitHubID: ghUser.ID,
		}
		return q.CreateUser(ctx, user)
	})
	if err != nil {
		return nil, fmt.Errorf("service/account: signing in GitHub user %d: %w", ghUser.ID, err)
	}

	s.logger.Info("user authenticated via GitHub",
		slog.Int64("userID", user.ID),
		slog.String("login", ghUser.Login),
	)
	return s.issue(user)
}

func (s *AccountService) issue(user *model.User) (*AuthResult, error) {
	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/account: generating token for user %d: %w", user.ID, err)
	}
	return &AuthResult{User: user, Token: token}, nil
}

// ProfileUpdate carries the optional profile fields. nil leaves a field
// unchanged.
type ProfileUpdate struct {
	Nickname *string
	Avatar   *string
}

// UpdateProfile changes nickname and/or avatar and tells the user's friends,
// plus the user's other sessions, through profile_updated.
func (s *AccountService) UpdateProfile(ctx context.Context, userID int64, upd ProfileUpdate) (*model.User, error) {
	var nickname string
	if upd.Nickname != nil {
		n, err := normalizeNickname(*upd.Nickname)
		if err != nil {
			return nil, err
		}
		nickname = n
	}

	var (
		user      *model.User
		friendIDs []int64
	)
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		var err error
		if user, err = q.GetUserByID(ctx, userID); err != nil {
			return err
		}
		if upd.Nickname != nil {
			user.Nickname = nickname
		}
		if upd.Avatar != nil {
			user.Avatar = strings.TrimSpace(*upd.Avatar)
		}
		if err := q.UpdateUserProfile(ctx, user); err != nil {
			return err
		}
		friendIDs, err = q.FriendIDs(ctx, userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("service/account: updating profile of %d: %w", userID, err)
	}

	s.logger.Info("profile updated", slog.Int64("userID", userID))

	s.notify.ProfileUpdated(ctx, user.Summary(), friendIDs)
	return user, nil
}

// GetUserByID is used by /api/me after the middleware has validated the
// token and put the user id in the request context.
func (s *AccountService) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	user, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/account: fetching user %d: %w", id, err)
	}
	return user, nil
}

func (s *AccountService) GetUserByLinkCode(ctx context.Context, code string) (*model.User, error) {
	user, err := s.store.GetUserByLinkCode(ctx, strings.TrimSpace(code))
	if err != nil {
		return nil, fmt.Errorf("service/account: fetching user %s: %w", code, err)
	}
	return user, nil
}

// Summaries resolves display summaries for ids in one query. Ids that do
// not resolve are absent from the map.
func (s *AccountService) Summaries(ctx context.Context, ids []int64) (map[int64]model.UserSummary, error) {
	summaries, err := s.store.UserSummaries(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("service/account: loading summaries: %w", err)
	}
	return summaries, nil
}
