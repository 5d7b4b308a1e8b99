package crypto

import (
	"context"
	"fmt"
	"sync"

	"github.com/awnumar/memguard"
)

// Session owns the master key for one authenticated session. The key lives
// in a memguard locked buffer (mlocked, canary-guarded, wiped on destroy)
// and is only ever exposed to callers inside UseMasterKey, under a read
// lock. Clear acts as a logout barrier: it waits for in-flight operations
// holding the read lock, destroys the key, and permanently closes the
// session. A fresh login gets a fresh Session.
type Session struct {
	mu        sync.RWMutex
	key       *memguard.LockedBuffer
	ready     chan struct{}
	readyOnce sync.Once
	cleared   bool
}

// NewSession creates an empty session. The master key is undefined until
// SetMasterKey or DeriveInBackground completes.
func NewSession() *Session {
	return &Session{ready: make(chan struct{})}
}

// SetMasterKey installs the master key. The input slice is wiped as it is
// moved into locked memory, so callers must not reuse it.
func (s *Session) SetMasterKey(mk []byte) error {
	if len(mk) != MasterKeySize {
		return fmt.Errorf("master key must be %d bytes, got %d", MasterKeySize, len(mk))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cleared {
		SecureZeroBytes(mk)
		return fmt.Errorf("session already cleared: %w", ErrNoMasterKey)
	}
	if s.key != nil {
		s.key.Destroy()
	}
	s.key = memguard.NewBufferFromBytes(mk)
	s.readyOnce.Do(func() { close(s.ready) })
	return nil
}

// DeriveInBackground starts master key derivation without blocking the
// caller. The KDF is a long synchronous CPU-bound call, so login flows kick
// it off here and later operations wait on the returned channel (or
// WaitReady) instead of relying on timing. The channel receives exactly one
// value: nil on success or the derivation error.
func (s *Session) DeriveInBackground(password []byte, params KdfParams) <-chan error {
	done := make(chan error, 1)
	go func() {
		mk, err := DeriveMasterKey(password, params)
		SecureZeroBytes(password)
		if err != nil {
			done <- err
			return
		}
		done <- s.SetMasterKey(mk)
	}()
	return done
}

// WaitReady blocks until the master key is available, the session is
// cleared, or the context is cancelled.
func (s *Session) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.cleared {
			return ErrNoMasterKey
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready reports whether a master key is currently available.
func (s *Session) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key != nil && !s.cleared
}

// UseMasterKey runs fn with the master key under a read lock. The key slice
// is only valid for the duration of the call and must not escape fn.
// Concurrent encrypt/decrypt operations may hold the lock simultaneously;
// Clear waits for all of them before destroying the key.
func (s *Session) UseMasterKey(fn func(mk []byte) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cleared || s.key == nil {
		return ErrNoMasterKey
	}
	return fn(s.key.Bytes())
}

// Clear destroys the master key and closes the session. No operation may
// begin using the key after Clear starts; operations already inside
// UseMasterKey complete first. Idempotent.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key != nil {
		s.key.Destroy()
		s.key = nil
	}
	s.cleared = true
	// Wake any waiter so it observes the cleared state instead of hanging.
	s.readyOnce.Do(func() { close(s.ready) })
}
