// internal/dedup/dedup.go
// Package dedup provides an alert deduplication guard backed by Redis SETNX.
// It is a fast-path filter in front of the notification ledger: when two
// expiry runs overlap, the guard lets at most one of them attempt the insert
// for a given (owner, warranty, kind) triple. The database unique constraint
// remains the authority; a Redis outage only costs us the fast path.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/warrantypro/warranty-core-go/internal/model"
)

const (
	// DefaultTTL is how long an alert key is remembered. Alert thresholds are
	// exact calendar days, so a run on the next day can never re-emit the same
	// kind; 48h gives comfortable slack for clock skew between runs.
	DefaultTTL = 48 * time.Hour

	keyPrefix = "wty:alerted:"
)

// Guard tracks which alerts have already been attempted.
// A nil *Guard is valid and always reports the alert as new, so callers never
// need to branch on whether Redis is configured.
type Guard struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewGuard creates a dedup guard backed by Redis.
func NewGuard(rdb *redis.Client) *Guard {
	return &Guard{
		rdb: rdb,
		ttl: DefaultTTL,
	}
}

// IsNew returns true if no run has claimed this alert yet. If true, the alert
// is marked as claimed atomically (SETNX).
func (g *Guard) IsNew(ctx context.Context, ownerID, warrantyID string, kind model.AlertKind) (bool, error) {
	if g == nil || g.rdb == nil {
		return true, nil
	}

	key := fmt.Sprintf("%s%s:%s:%s", keyPrefix, ownerID, warrantyID, kind)

	set, err := g.rdb.SetNX(ctx, key, 1, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}

	return set, nil
}
