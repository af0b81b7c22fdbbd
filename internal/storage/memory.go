// internal/storage/memory.go
// Package storage provides implementations of the Store interface
// for both in-memory and PostgreSQL storage backends.
package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/warrantypro/warranty-core-go/internal/model"
)

// Standard errors returned by the storage layer
var (
	ErrNotFound = errors.New("not found") // Returned when a row is missing or owned by someone else
	ErrConflict = errors.New("conflict")  // Returned when a uniqueness constraint would be violated
)

// Store defines the storage operations required by the warranty core.
// Lookups are exact-match and ownership-filtered: a row owned by a different
// user is indistinguishable from a row that does not exist.
type Store interface {
	// Warranty operations. The core treats warranties as read-only; Put and
	// Delete exist for the CRUD layer and for test seeding.
	PutWarranty(ctx context.Context, w model.Warranty) error
	DeleteWarranty(ctx context.Context, warrantyID, ownerID string) error
	GetWarranty(ctx context.Context, warrantyID, ownerID string) (*model.Warranty, error)
	// ListWarranties returns warranties for one owner, or for all owners when
	// ownerID is empty (the scheduled-run scope).
	ListWarranties(ctx context.Context, ownerID string) ([]model.Warranty, error)

	// Notification ledger operations. CreateNotification returns ErrConflict
	// when a record for the same (owner, warranty, kind) already exists; that
	// constraint is the idempotence contract of the expiry engine.
	CreateNotification(ctx context.Context, n model.NotificationRecord) error
	// MarkNotificationAttempted flags that an email send was started for the
	// record, regardless of outcome; MarkNotificationDelivered additionally
	// flags the send as successful.
	MarkNotificationAttempted(ctx context.Context, notificationID string) error
	MarkNotificationDelivered(ctx context.Context, notificationID string, at time.Time) error
	MarkNotificationRead(ctx context.Context, notificationID, ownerID string, at time.Time) (*model.NotificationRecord, error)
	ListNotifications(ctx context.Context, ownerID string, limit int) ([]model.NotificationRecord, error)
	UnreadCount(ctx context.Context, ownerID string) (int, error)

	// Claim operations. UpdateClaim applies fn to the current row under a
	// write lock; fn returning an error aborts the update.
	CreateClaim(ctx context.Context, c model.Claim) error
	GetClaim(ctx context.Context, claimID, ownerID string) (*model.Claim, error)
	ListClaims(ctx context.Context, query model.ListClaimsQuery) ([]model.Claim, error)
	UpdateClaim(ctx context.Context, claimID, ownerID string, fn func(*model.Claim) error) (*model.Claim, error)
	DeleteClaim(ctx context.Context, claimID, ownerID string) error

	// NextClaimSeq returns a strictly increasing persisted counter used as
	// the sequence component of claim numbers.
	NextClaimSeq(ctx context.Context) (int64, error)
}

// memory implements the Store interface using in-memory maps.
// It's intended for development and testing purposes.
type memory struct {
	mu            sync.RWMutex
	warranties    map[string]*model.Warranty
	notifications map[string]*model.NotificationRecord
	// ledgerKeys indexes notifications by (owner, warranty, kind) so that
	// duplicate creation fails the same way the DB unique constraint does.
	ledgerKeys map[ledgerKey]string
	claims     map[string]*model.Claim
	claimSeq   int64
}

type ledgerKey struct {
	ownerID    string
	warrantyID string
	kind       model.AlertKind
}

// NewMemory creates a new in-memory storage implementation.
func NewMemory() Store {
	return &memory{
		warranties:    make(map[string]*model.Warranty),
		notifications: make(map[string]*model.NotificationRecord),
		ledgerKeys:    make(map[ledgerKey]string),
		claims:        make(map[string]*model.Claim),
	}
}

func (m *memory) PutWarranty(ctx context.Context, w model.Warranty) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	wCopy := w
	m.warranties[w.ID] = &wCopy
	return nil
}

func (m *memory) DeleteWarranty(ctx context.Context, warrantyID, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, exists := m.warranties[warrantyID]
	if !exists || w.OwnerID != ownerID {
		return ErrNotFound
	}
	delete(m.warranties, warrantyID)
	return nil
}

func (m *memory) GetWarranty(ctx context.Context, warrantyID, ownerID string) (*model.Warranty, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, exists := m.warranties[warrantyID]
	if !exists || w.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	wCopy := *w
	return &wCopy, nil
}

func (m *memory) ListWarranties(ctx context.Context, ownerID string) ([]model.Warranty, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Warranty, 0)
	for _, w := range m.warranties {
		if ownerID == "" || w.OwnerID == ownerID {
			out = append(out, *w)
		}
	}
	// Stable order for deterministic processing
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memory) CreateNotification(ctx context.Context, n model.NotificationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := ledgerKey{ownerID: n.OwnerID, warrantyID: n.WarrantyID, kind: n.Kind}
	if _, exists := m.ledgerKeys[key]; exists {
		return ErrConflict
	}

	nCopy := n
	m.notifications[n.ID] = &nCopy
	m.ledgerKeys[key] = n.ID
	return nil
}

func (m *memory) MarkNotificationAttempted(ctx context.Context, notificationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, exists := m.notifications[notificationID]
	if !exists {
		return ErrNotFound
	}
	n.EmailAttempted = true
	return nil
}

func (m *memory) MarkNotificationDelivered(ctx context.Context, notificationID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, exists := m.notifications[notificationID]
	if !exists {
		return ErrNotFound
	}
	n.EmailAttempted = true
	n.EmailSent = true
	atCopy := at
	n.EmailSentAt = &atCopy
	return nil
}

func (m *memory) MarkNotificationRead(ctx context.Context, notificationID, ownerID string, at time.Time) (*model.NotificationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, exists := m.notifications[notificationID]
	if !exists || n.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	if n.ReadAt == nil {
		atCopy := at
		n.ReadAt = &atCopy
	}
	nCopy := *n
	return &nCopy, nil
}

func (m *memory) ListNotifications(ctx context.Context, ownerID string, limit int) ([]model.NotificationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.NotificationRecord, 0)
	for _, n := range m.notifications {
		if n.OwnerID == ownerID {
			out = append(out, *n)
		}
	}
	// Newest first
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.After(out[j].SentAt) })

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memory) UnreadCount(ctx context.Context, ownerID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, n := range m.notifications {
		if n.OwnerID == ownerID && n.ReadAt == nil {
			count++
		}
	}
	return count, nil
}

func (m *memory) CreateClaim(ctx context.Context, c model.Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.claims[c.ID]; exists {
		return ErrConflict
	}
	for _, existing := range m.claims {
		if existing.ClaimNumber == c.ClaimNumber {
			return ErrConflict
		}
	}

	cCopy := cloneClaim(c)
	m.claims[c.ID] = &cCopy
	return nil
}

func (m *memory) GetClaim(ctx context.Context, claimID, ownerID string) (*model.Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, exists := m.claims[claimID]
	if !exists || c.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	cCopy := cloneClaim(*c)
	return &cCopy, nil
}

func (m *memory) ListClaims(ctx context.Context, query model.ListClaimsQuery) ([]model.Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Claim, 0)
	for _, c := range m.claims {
		if c.OwnerID != query.OwnerID {
			continue
		}
		if query.WarrantyID != "" && c.WarrantyID != query.WarrantyID {
			continue
		}
		if query.Status != "" && c.Status != query.Status {
			continue
		}
		out = append(out, cloneClaim(*c))
	}
	// Newest first
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memory) UpdateClaim(ctx context.Context, claimID, ownerID string, fn func(*model.Claim) error) (*model.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, exists := m.claims[claimID]
	if !exists || c.OwnerID != ownerID {
		return nil, ErrNotFound
	}

	// Mutate a copy so a failing fn leaves the stored row untouched.
	updated := cloneClaim(*c)
	if err := fn(&updated); err != nil {
		return nil, err
	}
	m.claims[claimID] = &updated

	result := cloneClaim(updated)
	return &result, nil
}

func (m *memory) DeleteClaim(ctx context.Context, claimID, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, exists := m.claims[claimID]
	if !exists || c.OwnerID != ownerID {
		return ErrNotFound
	}
	delete(m.claims, claimID)
	return nil
}

func (m *memory) NextClaimSeq(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.claimSeq++
	return m.claimSeq, nil
}

// cloneClaim deep-copies the slices and pointer fields so callers never
// share mutable state with the store.
func cloneClaim(c model.Claim) model.Claim {
	out := c
	if c.Conversation != nil {
		out.Conversation = append([]model.ChatMessage(nil), c.Conversation...)
	}
	if c.Suggestions != nil {
		s := *c.Suggestions
		if c.Suggestions.TroubleshootingSteps != nil {
			s.TroubleshootingSteps = append([]string(nil), c.Suggestions.TroubleshootingSteps...)
		}
		out.Suggestions = &s
	}
	if c.GeneratedEmail != nil {
		e := *c.GeneratedEmail
		out.GeneratedEmail = &e
	}
	if c.EmailSentAt != nil {
		t := *c.EmailSentAt
		out.EmailSentAt = &t
	}
	return out
}
