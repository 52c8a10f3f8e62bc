package network

import (
	"strings"
	"sync"

	"github.com/HimbeerserverDE/srp"
)

// CredentialStore resolves an account name to its SRP salt and
// verifier. Persistence is the embedder's concern; the engine only
// needs lookups during the handshake.
type CredentialStore interface {
	Lookup(username string) (salt, verifier []byte, ok bool)
}

type credential struct {
	salt     []byte
	verifier []byte
}

// MemoryCredentials is an in-process credential store. Account names
// are case-insensitive.
type MemoryCredentials struct {
	mu       sync.RWMutex
	accounts map[string]credential
}

// NewMemoryCredentials returns an empty store.
func NewMemoryCredentials() *MemoryCredentials {
	return &MemoryCredentials{accounts: make(map[string]credential)}
}

// Add derives and stores the SRP salt and verifier for an account.
func (m *MemoryCredentials) Add(username, password string) error {
	name := strings.ToLower(username)

	s, v, err := srp.NewClient([]byte(name), []byte(password))
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.accounts[name] = credential{salt: s, verifier: v}
	m.mu.Unlock()
	return nil
}

// Lookup implements CredentialStore.
func (m *MemoryCredentials) Lookup(username string) ([]byte, []byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.accounts[strings.ToLower(username)]
	if !ok {
		return nil, nil, false
	}
	return c.salt, c.verifier, true
}
