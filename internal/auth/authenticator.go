// Package auth resolves request identities from signed session cookies and
// establishes those sessions at login.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"golang.org/x/crypto/bcrypt"

	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// SessionName is the cookie carrying the session
const SessionName = "classhub-session"

const (
	keyUserID   = "user_id"
	keyUsername = "username"
	keyRole     = "role"
)

// Options configures the cookie store
type Options struct {
	SessionKey []byte
	MaxAge     time.Duration
	Secure     bool
}

// CookieAuthenticator implements interfaces.SessionAuthenticator on top of a
// gorilla cookie store
type CookieAuthenticator struct {
	store *sessions.CookieStore
	users interfaces.UserStore
}

var _ interfaces.SessionAuthenticator = (*CookieAuthenticator)(nil)

// NewCookieAuthenticator creates an authenticator backed by users
func NewCookieAuthenticator(opts Options, users interfaces.UserStore) *CookieAuthenticator {
	store := sessions.NewCookieStore(opts.SessionKey)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(opts.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &CookieAuthenticator{store: store, users: users}
}

// Authenticate returns the identity stored in the request's session cookie.
// A missing, expired or tampered cookie yields ErrUnauthenticated.
func (a *CookieAuthenticator) Authenticate(r *http.Request) (*types.Identity, error) {
	session, err := a.store.Get(r, SessionName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrUnauthenticated, err)
	}

	userID, _ := session.Values[keyUserID].(string)
	username, _ := session.Values[keyUsername].(string)
	role, _ := session.Values[keyRole].(string)
	if userID == "" || !types.IsValidRole(role) {
		return nil, types.ErrUnauthenticated
	}

	return &types.Identity{UserID: userID, Username: username, Role: role}, nil
}

// Register creates a user with a bcrypt password hash
func (a *CookieAuthenticator) Register(ctx context.Context, req *types.RegisterRequest) (*types.User, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if err := types.ValidateStruct(req); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &types.User{
		ID:           uuid.New().String(),
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		Role:         req.Role,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if user.DisplayName == "" {
		user.DisplayName = user.Username
	}

	if err := a.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, interfaces.ErrDuplicateUsername) {
			return nil, fmt.Errorf("%w: %w", types.ErrInvalidArgument, err)
		}
		return nil, fmt.Errorf("%w: %w", types.ErrPersistenceFailed, err)
	}

	slog.Info("user registered", "user_id", user.ID, "role", user.Role)
	return user, nil
}

// Login checks credentials and writes the session cookie
func (a *CookieAuthenticator) Login(w http.ResponseWriter, r *http.Request, req *types.LoginRequest) (*types.User, error) {
	if err := types.ValidateStruct(req); err != nil {
		return nil, err
	}

	user, err := a.users.GetUserByUsername(r.Context(), strings.TrimSpace(req.Username))
	if errors.Is(err, interfaces.ErrUserNotFound) {
		return nil, fmt.Errorf("%w: invalid username or password", types.ErrUnauthenticated)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrPersistenceFailed, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, fmt.Errorf("%w: invalid username or password", types.ErrUnauthenticated)
	}

	// a stale or foreign cookie is replaced rather than rejected
	session, _ := a.store.Get(r, SessionName)
	identity := user.Identity()
	session.Values[keyUserID] = identity.UserID
	session.Values[keyUsername] = identity.Username
	session.Values[keyRole] = identity.Role
	if err := session.Save(r, w); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return user, nil
}

// Logout expires the session cookie
func (a *CookieAuthenticator) Logout(w http.ResponseWriter, r *http.Request) error {
	session, _ := a.store.Get(r, SessionName)
	session.Values = map[interface{}]interface{}{}
	session.Options.MaxAge = -1
	if err := session.Save(r, w); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// CurrentUser resolves the request identity to its full user record
func (a *CookieAuthenticator) CurrentUser(r *http.Request) (*types.User, error) {
	identity, err := a.Authenticate(r)
	if err != nil {
		return nil, err
	}
	user, err := a.users.GetUser(r.Context(), identity.UserID)
	if errors.Is(err, interfaces.ErrUserNotFound) {
		return nil, types.ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrPersistenceFailed, err)
	}
	return user, nil
}
