// Package protect defines the boundary to the protected-content service.
// Key management and ciphers live elsewhere; the graph only asks whether a
// protected session is active and, if so, to decrypt titles and content.
package protect

import (
	"errors"
	"sync"
)

// Placeholder replaces protected titles and content when no session is active.
const Placeholder = "[protected]"

// ErrNoSession is returned when decryption is requested without an active session.
var ErrNoSession = errors.New("protected session not available")

// Session decrypts protected note data.
type Session interface {
	IsActive() bool
	DecryptTitle(ciphertext string) (string, error)
	DecryptContent(ciphertext []byte) ([]byte, error)
}

// Locked is a Session that is never active.
type Locked struct{}

func (Locked) IsActive() bool { return false }

func (Locked) DecryptTitle(string) (string, error) { return "", ErrNoSession }

func (Locked) DecryptContent([]byte) ([]byte, error) { return nil, ErrNoSession }

// Decrypter is the cipher half of a session, supplied by the key service.
type Decrypter interface {
	Decrypt(ciphertext []byte) ([]byte, error)
}

// DecrypterFunc adapts a function to Decrypter.
type DecrypterFunc func([]byte) ([]byte, error)

func (f DecrypterFunc) Decrypt(b []byte) ([]byte, error) { return f(b) }

// Notifier is a Session that reports when it starts or ends.
type Notifier interface {
	OnChange(fn func())
}

// Manager is a Session whose availability follows login/logout of the
// protected session. Safe for concurrent use.
type Manager struct {
	mu        sync.RWMutex
	dec       Decrypter
	listeners []func()
}

// NewManager returns a Manager with no active session.
func NewManager() *Manager {
	return &Manager{}
}

// OnChange registers fn to run after every Start and End. Listeners run on
// the caller's goroutine, outside the manager lock.
func (m *Manager) OnChange(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Start activates the session with the given decrypter.
func (m *Manager) Start(dec Decrypter) {
	m.set(dec)
}

// End deactivates the session.
func (m *Manager) End() {
	m.set(nil)
}

func (m *Manager) set(dec Decrypter) {
	m.mu.Lock()
	m.dec = dec
	listeners := append([]func(){}, m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// IsActive reports whether a decrypter is available.
func (m *Manager) IsActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dec != nil
}

// DecryptTitle decrypts a protected title.
func (m *Manager) DecryptTitle(ciphertext string) (string, error) {
	plain, err := m.DecryptContent([]byte(ciphertext))
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// DecryptContent decrypts protected content.
func (m *Manager) DecryptContent(ciphertext []byte) ([]byte, error) {
	m.mu.RLock()
	dec := m.dec
	m.mu.RUnlock()
	if dec == nil {
		return nil, ErrNoSession
	}
	return dec.Decrypt(ciphertext)
}
