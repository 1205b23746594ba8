package relay

import (
	"context"
	"errors"
	"sync"

	"pinpoint/internal/domain"
)

// ErrUnknownUser is returned for users that never published keys.
var ErrUnknownUser = errors.New("relay: unknown user")

// Memory is an in-process relay: published key material plus one FIFO
// mailbox per user. It backs the relay server and doubles as a
// domain.RelayClient for tests and single-process setups.
type Memory struct {
	mu        sync.Mutex
	keys      map[domain.UserID]domain.UserPublicKeys
	mailboxes map[domain.UserID][]domain.Envelope
	watchers  map[domain.UserID]map[chan domain.Envelope]struct{}
}

// NewMemory returns an empty relay.
func NewMemory() *Memory {
	return &Memory{
		keys:      make(map[domain.UserID]domain.UserPublicKeys),
		mailboxes: make(map[domain.UserID][]domain.Envelope),
		watchers:  make(map[domain.UserID]map[chan domain.Envelope]struct{}),
	}
}

// PublishUserKeys replaces the key material published for userID.
func (m *Memory) PublishUserKeys(_ context.Context, userID domain.UserID, keys domain.UserPublicKeys) error {
	keys.OneTimePrekeys = append([]domain.X25519Public(nil), keys.OneTimePrekeys...)
	m.mu.Lock()
	m.keys[userID] = keys
	m.mu.Unlock()
	return nil
}

// GetUserKeys returns a bundle for userID and hands out one of its one-time
// prekeys, removing it from the pool. An empty pool yields a bundle without one.
func (m *Memory) GetUserKeys(_ context.Context, userID domain.UserID) (domain.PublicKeyBundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys, ok := m.keys[userID]
	if !ok {
		return domain.PublicKeyBundle{}, ErrUnknownUser
	}
	bundle := domain.PublicKeyBundle{
		SigningKey:      keys.SigningKey,
		IdentityKey:     keys.IdentityKey,
		SignedPrekey:    keys.SignedPrekey,
		PrekeySignature: append([]byte(nil), keys.PrekeySignature...),
	}
	if len(keys.OneTimePrekeys) > 0 {
		otpk := keys.OneTimePrekeys[0]
		bundle.OneTimePrekey = &otpk
		keys.OneTimePrekeys = keys.OneTimePrekeys[1:]
		m.keys[userID] = keys
	}
	return bundle, nil
}

// SendEnvelope queues env for its receiver and notifies any watchers.
func (m *Memory) SendEnvelope(_ context.Context, env domain.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.keys[env.ReceiverID]; !ok {
		return ErrUnknownUser
	}
	m.mailboxes[env.ReceiverID] = append(m.mailboxes[env.ReceiverID], env)
	for ch := range m.watchers[env.ReceiverID] {
		select {
		case ch <- env:
		default: // slow watcher; it can still fetch
		}
	}
	return nil
}

// FetchEnvelopes returns up to limit queued envelopes without removing them.
// A non-positive limit returns everything.
func (m *Memory) FetchEnvelopes(_ context.Context, userID domain.UserID, limit int) ([]domain.Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	box := m.mailboxes[userID]
	if limit <= 0 || limit > len(box) {
		limit = len(box)
	}
	return append([]domain.Envelope(nil), box[:limit]...), nil
}

// AckEnvelopes drops the first count envelopes of userID's mailbox.
func (m *Memory) AckEnvelopes(_ context.Context, userID domain.UserID, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	box := m.mailboxes[userID]
	if count > len(box) {
		count = len(box)
	}
	if count > 0 {
		m.mailboxes[userID] = append([]domain.Envelope(nil), box[count:]...)
	}
	return nil
}

// Watch streams envelopes queued for userID from now on until cancel is
// called. Delivery is best effort; the mailbox stays authoritative.
func (m *Memory) Watch(userID domain.UserID) (<-chan domain.Envelope, func()) {
	ch := make(chan domain.Envelope, 64)

	m.mu.Lock()
	if m.watchers[userID] == nil {
		m.watchers[userID] = make(map[chan domain.Envelope]struct{})
	}
	m.watchers[userID][ch] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.watchers[userID], ch)
			if len(m.watchers[userID]) == 0 {
				delete(m.watchers, userID)
			}
			m.mu.Unlock()
			close(ch)
		})
	}
}

// Compile-time assertion that Memory implements domain.RelayClient.
var _ domain.RelayClient = (*Memory)(nil)
