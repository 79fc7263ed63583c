// Package lock implements the per-document claim marker: a "<path>.lock" file
// created with O_EXCL so that exactly one claimant wins, plus an in-process set
// that keeps goroutines sharing a Locker from racing each other at all.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/document-splitter/pkg/logger"
)

// Suffix is appended to a document path to form its lock path.
const Suffix = ".lock"

// releaseRetry is how long Release waits before retrying a lock that is
// missing, to let a reclaimer put back a fresh lock it moved aside.
const releaseRetry = 50 * time.Millisecond

var ErrLocked = errors.New("document is locked")

// Record is the JSON content of a lock file.
type Record struct {
	Owner     string    `json:"owner"`
	PID       int       `json:"pid"`
	Host      string    `json:"host"`
	CreatedAt time.Time `json:"created_at"`
}

// Locker hands out claim locks. It is safe for concurrent use.
type Locker struct {
	owner        string
	staleTTL     time.Duration
	releaseRetry time.Duration
	logger       logger.Logger
	now          func() time.Time

	mu   sync.Mutex
	held map[string]struct{}
}

// Option configures a Locker.
type Option func(*Locker)

// WithStaleTTL enables reclaiming locks older than ttl. Zero disables it.
func WithStaleTTL(ttl time.Duration) Option {
	return func(l *Locker) {
		l.staleTTL = ttl
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Locker) {
		l.now = now
	}
}

// New creates a Locker that stamps its locks with owner.
func New(owner string, log logger.Logger, opts ...Option) *Locker {
	l := &Locker{
		owner:        owner,
		releaseRetry: releaseRetry,
		logger:       log,
		now:          time.Now,
		held:         make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the lock file path for a document.
func Path(doc string) string {
	return doc + Suffix
}

// TryAcquire claims doc. It never blocks and never retries: false means the
// caller must skip the document.
func (l *Locker) TryAcquire(doc string) bool {
	err := l.Acquire(doc)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrLocked):
		l.logger.Info("Document already claimed, skipping", logger.String("lock", Path(doc)))
	default:
		l.logger.Error("Error creating lock file", logger.String("lock", Path(doc)), logger.Error(err))
	}
	return false
}

// Acquire claims doc, returning ErrLocked when another claimant holds it.
func (l *Locker) Acquire(doc string) error {
	l.mu.Lock()
	if _, ok := l.held[doc]; ok {
		l.mu.Unlock()
		return ErrLocked
	}
	l.held[doc] = struct{}{}
	l.mu.Unlock()

	err := l.create(doc)
	if err != nil && errors.Is(err, ErrLocked) && l.staleTTL > 0 {
		err = l.reclaim(doc)
	}
	if err != nil {
		l.forget(doc)
		return err
	}

	l.logger.Debug("Lock file created", logger.String("lock", Path(doc)))
	return nil
}

// Release removes the lock for doc. Removal errors are logged, never returned.
func (l *Locker) Release(doc string) {
	defer l.forget(doc)

	err := os.Remove(Path(doc))
	if errors.Is(err, fs.ErrNotExist) && l.releaseRetry > 0 {
		// A reclaimer may hold our lock aside for a moment before linking it back.
		time.Sleep(l.releaseRetry)
		err = os.Remove(Path(doc))
	}
	if err != nil {
		l.logger.Error("Error removing lock file", logger.String("lock", Path(doc)), logger.Error(err))
		return
	}
	l.logger.Debug("Removed lock file", logger.String("lock", Path(doc)))
}

// Read parses the lock record for doc.
func Read(doc string) (*Record, error) {
	data, err := os.ReadFile(Path(doc))
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse lock %s: %w", Path(doc), err)
	}
	return &rec, nil
}

func (l *Locker) create(doc string) error {
	f, err := os.OpenFile(Path(doc), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrLocked
		}
		return fmt.Errorf("create lock: %w", err)
	}

	host, _ := os.Hostname()
	rec := Record{
		Owner:     l.owner,
		PID:       os.Getpid(),
		Host:      host,
		CreatedAt: l.now().UTC(),
	}
	if err := json.NewEncoder(f).Encode(rec); err != nil {
		f.Close()
		return fmt.Errorf("write lock: %w", err)
	}
	return f.Close()
}

// reclaim takes over a lock whose record is older than the stale TTL. The
// current lock is first moved aside atomically, so two reclaimers cannot both
// delete it; a fresh lock moved aside by mistake is linked back. While it is
// aside the owner's Release finds nothing to remove, so Release retries once
// after releaseRetry. A restore slower than that still orphans the lock until
// it goes stale.
func (l *Locker) reclaim(doc string) error {
	rec, err := Read(doc)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return l.create(doc)
		}
		l.logger.Warn("Orphaned lock file must be removed manually",
			logger.String("lock", Path(doc)),
			logger.Error(err),
		)
		return ErrLocked
	}
	if !l.isStale(rec) {
		return ErrLocked
	}

	aside := fmt.Sprintf("%s.stale-%s", Path(doc), uuid.NewString())
	if err := os.Rename(Path(doc), aside); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return l.create(doc)
		}
		return fmt.Errorf("move stale lock: %w", err)
	}
	defer os.Remove(aside)

	moved, err := readRecord(aside)
	if err != nil || !l.isStale(moved) {
		// Someone else reclaimed in between: put their lock back.
		if linkErr := os.Link(aside, Path(doc)); linkErr != nil && !errors.Is(linkErr, fs.ErrExist) {
			l.logger.Error("Failed to restore lock file", logger.String("lock", Path(doc)), logger.Error(linkErr))
		}
		return ErrLocked
	}

	l.logger.Warn("Reclaiming stale lock file",
		logger.String("lock", Path(doc)),
		logger.String("previous_owner", moved.Owner),
		logger.Time("created_at", moved.CreatedAt),
	)
	return l.create(doc)
}

func (l *Locker) isStale(rec *Record) bool {
	if rec.CreatedAt.IsZero() {
		return false
	}
	return l.now().Sub(rec.CreatedAt) > l.staleTTL
}

func (l *Locker) forget(doc string) {
	l.mu.Lock()
	delete(l.held, doc)
	l.mu.Unlock()
}

func readRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
