package layout

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/llehouerou/shelf/internal/keylock"
)

// LockFileName is the lock file created at the library root.
const LockFileName = ".shelf.lock"

const lockRetryDelay = 50 * time.Millisecond

// Claimer grants exclusive claims on artist directories of one library root.
// Claims on the same artist are serialized in-process; the root lock file
// keeps other processes out while any claim is held.
type Claimer struct {
	root string
	keys keylock.Locker

	mu      sync.Mutex
	holders int
	lock    *flock.Flock
}

// NewClaimer returns a claimer for root.
func NewClaimer(root string) *Claimer {
	return &Claimer{
		root: root,
		lock: flock.New(filepath.Join(root, LockFileName)),
	}
}

// Claim blocks until artist's directory is exclusively held and returns the
// release function. Hold it across the collision check and the move.
func (c *Claimer) Claim(ctx context.Context, artist string) (release func(), err error) {
	unlockKey := c.keys.Lock(SanitizeComponent(artist))
	if err := c.acquireFile(ctx); err != nil {
		unlockKey()
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.releaseFile()
			unlockKey()
		})
	}, nil
}

func (c *Claimer) acquireFile(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.holders == 0 {
		if err := os.MkdirAll(c.root, 0o755); err != nil {
			return fmt.Errorf("create library root: %w", err)
		}
		ok, err := c.lock.TryLockContext(ctx, lockRetryDelay)
		if err != nil {
			return fmt.Errorf("acquire library lock: %w", err)
		}
		if !ok {
			return fmt.Errorf("acquire library lock: %s is held", c.lock.Path())
		}
	}
	c.holders++
	return nil
}

func (c *Claimer) releaseFile() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.holders--
	if c.holders == 0 {
		_ = c.lock.Unlock()
	}
}
