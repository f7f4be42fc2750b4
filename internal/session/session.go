// Package session holds the key material derived at sign-in. A Session is
// passed explicitly to every component that needs it and is closed on
// sign-out; work started under a closed session must not apply its results.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/atinyakov/gophvault/internal/envelope"
	verrors "github.com/atinyakov/gophvault/internal/errors"
)

const (
	// UnscopedNamespace is the namespace of the signed-out default session.
	UnscopedNamespace = "default"

	masterSuffix = "MP"
)

// Session is the ephemeral key material for one signed-in identity.
type Session struct {
	// Identity is the normalized login identity.
	Identity string
	// MasterKey is derived from Identity alone; see DESIGN.md on its strength.
	MasterKey string
	// Namespace prefixes every persisted key of this identity.
	Namespace string

	ctx    context.Context
	cancel context.CancelFunc
}

// Unscoped returns the signed-out default session. It is already closed.
func Unscoped() *Session {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return &Session{Namespace: UnscopedNamespace, ctx: ctx, cancel: cancel}
}

// New derives session key material for identity. The identity must contain
// exactly one '@' with non-empty local and domain parts and no ':'.
func New(identity string) (*Session, error) {
	id := strings.ToLower(strings.TrimSpace(identity))
	local, domain, ok := strings.Cut(id, "@")
	if !ok || local == "" || domain == "" || strings.Contains(domain, "@") || strings.Contains(id, ":") {
		return nil, fmt.Errorf("%q: %w", identity, verrors.ErrInvalidIdentity)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		Identity:  id,
		MasterKey: local + domain + masterSuffix,
		Namespace: id,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Key builds the persisted key for role in this session's namespace.
func (s *Session) Key(role string) string {
	return s.Namespace + ":" + role
}

// MasterKeyBytes returns the AES key used to wrap data keys.
func (s *Session) MasterKeyBytes() ([]byte, error) {
	if !s.Active() {
		return nil, verrors.ErrNoSession
	}
	return envelope.MasterKeyBytes(s.MasterKey)
}

// Context is cancelled when the session is closed.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Active reports whether the session is still signed in.
func (s *Session) Active() bool {
	return s.ctx.Err() == nil
}

// Err returns ErrSessionClosed once the session has been closed.
func (s *Session) Err() error {
	if s.Active() {
		return nil
	}
	return verrors.ErrSessionClosed
}

// Close ends the session. It is safe to call more than once.
func (s *Session) Close() {
	s.cancel()
}

// Manager tracks the current session of the application.
type Manager struct {
	mu      sync.RWMutex
	current *Session
}

// NewManager returns a Manager holding the unscoped session.
func NewManager() *Manager {
	return &Manager{current: Unscoped()}
}

// SignIn closes any current session and installs one for identity.
func (m *Manager) SignIn(identity string) (*Session, error) {
	s, err := New(identity)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.Close()
	m.current = s
	return s, nil
}

// SignOut closes the current session and resets to the unscoped default.
func (m *Manager) SignOut() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.Close()
	m.current = Unscoped()
}

// Current returns the current session, possibly the unscoped one.
func (m *Manager) Current() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}
