package crawl

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/fortuna/flowscrape/internal/browser"
)

// Throttle holds the courtesy pauses between units of work.
type Throttle struct {
	Event     time.Duration
	PageMin   time.Duration
	PageMax   time.Duration
	ToggleMin time.Duration
	ToggleMax time.Duration
}

// pauser sleeps for a random duration in a range.
type pauser struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newPauser(seed int64) *pauser {
	return &pauser{rng: rand.New(rand.NewSource(seed))}
}

func (p *pauser) between(ctx context.Context, min, max time.Duration) error {
	if max < min {
		max = min
	}
	d := min
	if span := max - min; span > 0 {
		p.mu.Lock()
		d += time.Duration(p.rng.Int63n(int64(span)))
		p.mu.Unlock()
	}
	return browser.Sleep(ctx, d)
}
