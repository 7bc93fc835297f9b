package resilience

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Guard wraps outbound calls: retry(breaker(call)). Each dependency name gets its
// own breaker, created on first use.
type Guard struct {
	settings BreakerSettings
	retry    RetryPolicy
	logger   *zap.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker
}

func NewGuard(settings BreakerSettings, retry RetryPolicy, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{
		settings: settings,
		retry:    retry,
		logger:   logger,
		breakers: make(map[string]*Breaker),
	}
}

func (g *Guard) Breaker(dependency string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.breakers[dependency]
	if !ok {
		b = NewBreaker(dependency, g.settings)
		g.breakers[dependency] = b
	}
	return b
}

// Call runs fn through the dependency's breaker, retrying transient failures.
// An open circuit is returned at once and never retried.
func (g *Guard) Call(ctx context.Context, dependency string, fn func(context.Context) error) error {
	b := g.Breaker(dependency)
	policy := g.retry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		g.logger.Warn("Retrying external call",
			zap.String("dependency", dependency),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))
	}
	err := policy.Do(ctx, func(ctx context.Context) error {
		return b.Execute(ctx, fn)
	})
	if err != nil {
		g.logger.Error("External call failed",
			zap.String("dependency", dependency),
			zap.String("breaker", string(b.Status().State)),
			zap.Error(err))
	}
	return err
}

// Statuses lists every breaker, sorted by name.
func (g *Guard) Statuses() []Status {
	g.mu.Lock()
	list := make([]*Breaker, 0, len(g.breakers))
	for _, b := range g.breakers {
		list = append(list, b)
	}
	g.mu.Unlock()

	out := make([]Status, 0, len(list))
	for _, b := range list {
		out = append(out, b.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
