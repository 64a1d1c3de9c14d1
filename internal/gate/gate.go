// ABOUTME: Counting semaphore that bounds concurrent outbound operations.
// ABOUTME: Permits are handed out as tokens whose release is idempotent.

package gate

import (
	"context"
	"sync"
)

// DefaultCapacity is the permit count used when the configuration does not
// set one. It matches the bound the sync pipeline was tuned for.
const DefaultCapacity = 50

// Gate is a counting semaphore. Acquire blocks until a permit is free and
// returns a Token that must be released when the guarded operation finishes.
// The channel makes acquire/release indivisible with respect to concurrent
// callers, so the outstanding count can never exceed the capacity.
type Gate struct {
	permits chan struct{}
}

// New creates a Gate with the given capacity. Non-positive capacities fall
// back to DefaultCapacity.
func New(capacity int) *Gate {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Gate{permits: make(chan struct{}, capacity)}
}

// Token is an acquired permit. Release returns it to the pool; calling
// Release more than once is safe and only the first call has an effect.
type Token struct {
	once sync.Once
	g    *Gate
}

// Acquire blocks until a permit is available or ctx is done. On success the
// caller owns the returned token and must release it on every exit path,
// typically via defer.
func (g *Gate) Acquire(ctx context.Context) (*Token, error) {
	select {
	case g.permits <- struct{}{}:
		return &Token{g: g}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns the permit to the pool. Idempotent.
func (t *Token) Release() {
	t.once.Do(func() {
		<-t.g.permits
	})
}

// Capacity reports the configured permit count.
func (g *Gate) Capacity() int {
	return cap(g.permits)
}

// InFlight reports the number of permits currently held.
func (g *Gate) InFlight() int {
	return len(g.permits)
}
