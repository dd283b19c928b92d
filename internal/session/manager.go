package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"report-ledger/internal/backend"
	"report-ledger/internal/domain"
	"report-ledger/internal/repository"
)

// Change is published whenever the current principal changes, whether
// through a caller request (sign in/out) or asynchronously (token
// refresh, remote revocation). Principal is nil when signed out.
type Change struct {
	Principal *domain.Principal
}

// Manager owns the current authentication identity. It is an explicit
// instance with lifecycle Start -> active -> Close; nothing in this
// package keeps ambient state.
type Manager interface {
	Start(ctx context.Context) error
	Close()
	// Restore recovers a persisted session at startup. It never fails
	// hard: on any error the manager ends up signed out with a logged
	// diagnostic.
	Restore(ctx context.Context)
	SignUp(ctx context.Context, email, password string) error
	SignIn(ctx context.Context, email, password string) (*domain.Principal, error)
	SignOut(ctx context.Context) error
	Principal() *domain.Principal
	AccessToken() string
	Subscribe() <-chan Change
}

type Config struct {
	AdminEmail      string
	RefreshInterval time.Duration
	RefreshMargin   time.Duration
	RestoreTimeout  time.Duration
	Logger          *logrus.Logger
}

type manager struct {
	cfg   Config
	auth  *backend.Client
	store repository.SessionRepository

	mu        sync.RWMutex
	session   *backend.Session
	principal *domain.Principal
	subs      []chan Change
	closed    bool

	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(cfg Config, auth *backend.Client, store repository.SessionRepository) Manager {
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = 30 * time.Second
	}
	if cfg.RefreshMargin == 0 {
		cfg.RefreshMargin = 2 * time.Minute
	}
	if cfg.RestoreTimeout == 0 {
		cfg.RestoreTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &manager{
		cfg:   cfg,
		auth:  auth,
		store: store,
	}
}

// Start launches the background refresh loop. The loop renews the
// access token before expiry and treats a rejected refresh as a remote
// sign-out, clearing the session and notifying subscribers.
func (m *manager) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.refreshLoop(loopCtx)
	return nil
}

func (m *manager) Close() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for _, ch := range m.subs {
		close(ch)
	}
	m.subs = nil
}

func (m *manager) Restore(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.RestoreTimeout)
	defer cancel()

	token, err := m.store.Load(ctx)
	if err != nil {
		m.cfg.Logger.Warnf("session restore: %v", err)
		return
	}
	if token == "" {
		return
	}

	sess, err := m.auth.RefreshSession(ctx, token)
	if err != nil {
		m.cfg.Logger.Warnf("session restore: %v", err)
		if authErr, ok := err.(*backend.AuthError); ok && authErr.Status >= 400 && authErr.Status < 500 {
			// token was revoked remotely, forget it
			if err := m.store.Clear(ctx); err != nil {
				m.cfg.Logger.Warnf("clear stored session: %v", err)
			}
		}
		return
	}

	m.install(ctx, sess)
	m.cfg.Logger.Infof("session restored for %s", sess.User.Email)
}

func (m *manager) SignUp(ctx context.Context, email, password string) error {
	// no local state changes: the account is usable only after the user
	// signs in (and verifies their email if the backend requires it)
	return m.auth.SignUp(ctx, email, password)
}

func (m *manager) SignIn(ctx context.Context, email, password string) (*domain.Principal, error) {
	sess, err := m.auth.SignInWithPassword(ctx, email, password)
	if err != nil {
		// prior state stays untouched on failure
		return nil, err
	}
	p := m.install(ctx, sess)
	m.cfg.Logger.Infof("signed in as %s", p.Email)
	return p, nil
}

func (m *manager) SignOut(ctx context.Context) error {
	m.mu.Lock()
	sess := m.session
	m.mu.Unlock()

	if sess == nil {
		// idempotent: signing out without a session is a no-op success
		return nil
	}

	if err := m.auth.SignOut(ctx, sess.AccessToken); err != nil {
		// local state is cleared regardless; the refresh token becomes
		// useless once dropped from the store
		m.cfg.Logger.Warnf("remote sign-out: %v", err)
	}
	m.clear(ctx)
	m.cfg.Logger.Info("signed out")
	return nil
}

func (m *manager) Principal() *domain.Principal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.principal
}

func (m *manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return ""
	}
	return m.session.AccessToken
}

func (m *manager) Subscribe() <-chan Change {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan Change, 16)
	if m.closed {
		close(ch)
		return ch
	}
	m.subs = append(m.subs, ch)
	return ch
}

// install adopts a new session, derives its principal, persists the
// refresh token, and notifies subscribers.
func (m *manager) install(ctx context.Context, sess *backend.Session) *domain.Principal {
	p := m.derivePrincipal(sess)

	m.mu.Lock()
	m.session = sess
	m.principal = p
	m.mu.Unlock()

	if err := m.store.Save(ctx, sess.RefreshToken); err != nil {
		m.cfg.Logger.Warnf("persist session: %v", err)
	}
	m.publish(Change{Principal: p})
	return p
}

func (m *manager) clear(ctx context.Context) {
	m.mu.Lock()
	hadSession := m.session != nil
	m.session = nil
	m.principal = nil
	m.mu.Unlock()

	if err := m.store.Clear(ctx); err != nil {
		m.cfg.Logger.Warnf("clear stored session: %v", err)
	}
	if hadSession {
		m.publish(Change{Principal: nil})
	}
}

func (m *manager) publish(change Change) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.subs {
		select {
		case ch <- change:
		default:
			m.cfg.Logger.Warn("session subscriber lagging, change dropped")
		}
	}
}

// derivePrincipal builds an immutable Principal from the session. The
// auth user object is preferred; when the refresh path returns bare
// tokens the claims of the (unverified) access token fill the gap.
func (m *manager) derivePrincipal(sess *backend.Session) *domain.Principal {
	p := domain.Principal{
		ID:        sess.User.ID,
		Email:     sess.User.Email,
		Role:      sess.User.Role,
		AdminFlag: sess.User.AppMetadata.Admin,
	}
	if sess.User.AppMetadata.Role != "" {
		p.Role = sess.User.AppMetadata.Role
	}
	if p.ID == "" {
		if claims, err := parseAccessClaims(sess.AccessToken); err == nil {
			p = claims.principal()
		} else {
			m.cfg.Logger.Warnf("derive principal: %v", err)
		}
	}
	p = p.WithPrivilege(m.cfg.AdminEmail)
	return &p
}

func (m *manager) refreshLoop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.maybeRefresh(ctx)
		}
	}
}

func (m *manager) maybeRefresh(ctx context.Context) {
	m.mu.RLock()
	sess := m.session
	m.mu.RUnlock()

	if sess == nil || time.Until(sess.ExpiresAt) > m.cfg.RefreshMargin {
		return
	}

	next, err := m.auth.RefreshSession(ctx, sess.RefreshToken)
	if err != nil {
		if authErr, ok := err.(*backend.AuthError); ok && authErr.Status >= 400 && authErr.Status < 500 {
			// revoked remotely: treat as an asynchronous sign-out
			m.cfg.Logger.Warnf("session revoked by backend: %v", err)
			m.clear(ctx)
			return
		}
		// transient failure, keep the session and retry next tick
		m.cfg.Logger.Warnf("session refresh: %v", err)
		return
	}
	m.install(ctx, next)
	m.cfg.Logger.Debug("session refreshed")
}
