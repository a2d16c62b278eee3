package domain

import "time"

// LockTTL bounds how long a lock may be held before it is reclaimable.
const LockTTL = 2 * time.Hour

// LockStaleAfter is how long an in-progress checkpoint may go without updates
// before its lock is considered stale.
const LockStaleAfter = 5 * time.Minute

// Lock is the persisted mutual-exclusion record for one catalog key.
type Lock struct {
	CatalogKey string    `json:"catalogKey"`
	LockID     string    `json:"lockId"`
	StartedAt  time.Time `json:"startedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// IsExpired reports whether the lock has passed its expiry at now.
func (l *Lock) IsExpired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}
