package api

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spherical/register-extractor/internal/cache"
	"github.com/spherical/register-extractor/internal/extract"
)

// PendingUpload is an accepted upload waiting for its subscriber.
type PendingUpload struct {
	ID        string
	Request   extract.Request
	CreatedAt time.Time
}

// UploadRegistry backs upload-then-subscribe. Pending uploads expire and the
// oldest is evicted once the registry is full; a subscribed upload moves to
// the active set until its run ends.
type UploadRegistry struct {
	pending *cache.ContentCache[*PendingUpload]

	mu     sync.Mutex
	active map[string]*extract.Run
}

// NewUploadRegistry creates a registry.
func NewUploadRegistry(ttl time.Duration, maxPending int) *UploadRegistry {
	return &UploadRegistry{
		pending: cache.New[*PendingUpload](cache.Options{TTL: ttl, MaxEntries: maxPending}),
		active:  make(map[string]*extract.Run),
	}
}

// Register stores a validated request and returns its upload id.
func (u *UploadRegistry) Register(req extract.Request) *PendingUpload {
	p := &PendingUpload{
		ID:        uuid.New().String(),
		Request:   req,
		CreatedAt: time.Now(),
	}
	u.pending.Set(p.ID, p)
	return p
}

// Claim hands the upload to exactly one subscriber.
func (u *UploadRegistry) Claim(id string) (*PendingUpload, bool) {
	return u.pending.Take(id)
}

// Track records the run started for an upload.
func (u *UploadRegistry) Track(id string, run *extract.Run) {
	u.mu.Lock()
	u.active[id] = run
	u.mu.Unlock()
}

// Untrack forgets a finished run.
func (u *UploadRegistry) Untrack(id string) {
	u.mu.Lock()
	delete(u.active, id)
	u.mu.Unlock()
}

// Cancel aborts an upload's run, or drops the upload if nobody subscribed
// yet. It reports whether the id was known.
func (u *UploadRegistry) Cancel(id string) bool {
	u.mu.Lock()
	run, ok := u.active[id]
	u.mu.Unlock()
	if ok {
		run.Cancel()
		return true
	}

	if u.pending.Has(id) {
		u.pending.Delete(id)
		return true
	}
	return false
}

// Pending returns the number of uploads awaiting a subscriber.
func (u *UploadRegistry) Pending() int {
	return u.pending.Len()
}

// Active returns the number of running subscribed uploads.
func (u *UploadRegistry) Active() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.active)
}
