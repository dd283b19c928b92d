package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// AuthUser is the auth API's view of an account. Role and the
// app_metadata admin markers feed privilege derivation; nothing here is
// trusted for enforcement.
type AuthUser struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	AppMetadata struct {
		Role  string `json:"role"`
		Admin bool   `json:"admin"`
	} `json:"app_metadata"`
}

// Session is an established authentication session: the bearer token
// for record calls, the refresh token persisted across restarts, and
// the expiry used to schedule renewal.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	User         AuthUser
}

type tokenResponse struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresIn    int64    `json:"expires_in"`
	User         AuthUser `json:"user"`
}

func (t tokenResponse) session(now time.Time) *Session {
	return &Session{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    now.Add(time.Duration(t.ExpiresIn) * time.Second),
		User:         t.User,
	}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignUp requests account creation. The backend may require email
// verification before the account is usable; either way no session is
// established here.
func (c *Client) SignUp(ctx context.Context, email, password string) error {
	status, raw, err := c.do(ctx, http.MethodPost, "/auth/v1/signup", "", credentials{Email: email, Password: password})
	if err != nil {
		return wrapAuthErr(err)
	}
	if status >= 400 {
		return authError(status, raw)
	}
	return nil
}

// SignInWithPassword exchanges credentials for a session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	status, raw, err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=password", "", credentials{Email: email, Password: password})
	if err != nil {
		return nil, wrapAuthErr(err)
	}
	if status >= 400 {
		return nil, authError(status, raw)
	}
	return decodeSession(raw)
}

// RefreshSession exchanges a refresh token for a new session. A 4xx
// here means the session was revoked remotely.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	body := map[string]string{"refresh_token": refreshToken}
	status, raw, err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=refresh_token", "", body)
	if err != nil {
		return nil, wrapAuthErr(err)
	}
	if status >= 400 {
		return nil, authError(status, raw)
	}
	return decodeSession(raw)
}

// SignOut revokes the session behind the given access token.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	status, raw, err := c.do(ctx, http.MethodPost, "/auth/v1/logout", accessToken, nil)
	if err != nil {
		return wrapAuthErr(err)
	}
	if status >= 400 {
		return authError(status, raw)
	}
	return nil
}

// User fetches the account behind an access token.
func (c *Client) User(ctx context.Context, accessToken string) (*AuthUser, error) {
	status, raw, err := c.do(ctx, http.MethodGet, "/auth/v1/user", accessToken, nil)
	if err != nil {
		return nil, wrapAuthErr(err)
	}
	if status >= 400 {
		return nil, authError(status, raw)
	}
	var user AuthUser
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, &AuthError{Message: "malformed user response"}
	}
	return &user, nil
}

func decodeSession(raw []byte) (*Session, error) {
	var tok tokenResponse
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, &AuthError{Message: "malformed session response"}
	}
	if tok.AccessToken == "" {
		return nil, &AuthError{Message: "session response missing access token"}
	}
	return tok.session(time.Now()), nil
}

// authErrorBody covers the error shapes the auth API produces across
// versions: {"error_description": ...}, {"msg": ...}, {"message": ...}.
type authErrorBody struct {
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	ErrorCode        string `json:"error"`
}

func authError(status int, raw []byte) error {
	var body authErrorBody
	_ = json.Unmarshal(raw, &body)
	msg := body.ErrorDescription
	if msg == "" {
		msg = body.Msg
	}
	if msg == "" {
		msg = body.Message
	}
	if msg == "" {
		msg = body.ErrorCode
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &AuthError{Status: status, Message: msg}
}

func wrapAuthErr(err error) error {
	if err == ErrUnconfigured {
		return err
	}
	if _, ok := err.(*AuthError); ok {
		return err
	}
	return &AuthError{Message: err.Error()}
}
