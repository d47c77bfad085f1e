package rebuild

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/foliotrack/valuation-service/internal/lock"
	"github.com/foliotrack/valuation-service/internal/models"
	"github.com/foliotrack/valuation-service/internal/valuation"
)

// ErrRebuildInProgress is returned when another process already holds the
// rebuild lock for the same (user, benchmark).
var ErrRebuildInProgress = errors.New("rebuild already in progress")

// rangePaddingBefore extends the series range before the first transaction so
// charts have a flat lead-in; rangePaddingAfter covers today's partial day.
const (
	rangePaddingBefore = 5 // days
	rangePaddingAfter  = 1 // days
)

// TransactionSource reads the immutable ledger.
type TransactionSource interface {
	GetTransactionsByUser(userID string) ([]models.Transaction, error)
	GetTransactionDateBounds(userID string) (first, last time.Time, ok bool, err error)
	GetLatestTransactionTime(userID string) (time.Time, bool, error)
}

// SeriesStore persists reconstructed series.
type SeriesStore interface {
	WriteBulk(userID, benchmark string, points []models.TimeSeriesPoint) error
	GetLatestCacheTime(userID, benchmark string) (time.Time, bool, error)
	InvalidateSeries(userID string, benchmarks []string) (int64, error)
	GetSeriesStats(userID string) ([]models.SeriesStats, error)
}

// Locker serializes rebuilds across processes.
type Locker interface {
	Acquire(ctx context.Context, name string, leaseTimeout, maxWait time.Duration) (bool, error)
	Release(ctx context.Context, name string) (bool, error)
}

// Publisher reports cache and rebuild lifecycle events. May be nil.
type Publisher interface {
	PublishCacheInvalidated(ctx context.Context, userID string) error
	PublishRebuildCompleted(ctx context.Context, userID, benchmark string, elapsed time.Duration) error
	PublishRebuildFailed(ctx context.Context, userID, benchmark string, rebuildErr error) error
}

// Metrics are cumulative rebuild counters.
type Metrics struct {
	Rebuilds int64 `json:"rebuilds"`
	Skipped  int64 `json:"skipped"`
	Failures int64 `json:"failures"`
}

// Coordinator orchestrates lock-guarded series rebuilds. Reads never wait on
// it; it runs synchronously on demand or asynchronously after invalidation.
type Coordinator struct {
	txs       TransactionSource
	store     SeriesStore
	locker    Locker
	builder   *valuation.SeriesBuilder
	publisher Publisher

	leaseTimeout time.Duration
	acquireWait  time.Duration

	rebuilds atomic.Int64
	skipped  atomic.Int64
	failures atomic.Int64

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a coordinator. acquireWait should be short: a held lock means
// another process is already rebuilding, so callers fail fast and serve stale
// data instead of queueing.
func New(txs TransactionSource, store SeriesStore, locker Locker, builder *valuation.SeriesBuilder, publisher Publisher, leaseTimeout, acquireWait time.Duration) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		txs:          txs,
		store:        store,
		locker:       locker,
		builder:      builder,
		publisher:    publisher,
		leaseTimeout: leaseTimeout,
		acquireWait:  acquireWait,
		baseCtx:      ctx,
		cancel:       cancel,
	}
}

// Rebuild recomputes and rewrites the portfolio and benchmark series for one
// (user, benchmark) key under the distributed lock. Unless forced, it skips
// when the cache is already as fresh as the ledger. Failures are logged,
// counted, and returned; they never leave partial cache writes because both
// series are computed completely before the first write.
func (c *Coordinator) Rebuild(ctx context.Context, userID, benchmark string, force bool) error {
	started := time.Now()

	lockName := lock.RebuildLockName(userID, benchmark)
	acquired, err := c.locker.Acquire(ctx, lockName, c.leaseTimeout, c.acquireWait)
	if err != nil && !errors.Is(err, lock.ErrNotAcquired) {
		c.failures.Add(1)
		return fmt.Errorf("rebuild lock for user=%s benchmark=%s: %w", userID, benchmark, err)
	}
	if !acquired {
		c.skipped.Add(1)
		return fmt.Errorf("rebuild for user=%s benchmark=%s: %w", userID, benchmark, ErrRebuildInProgress)
	}
	defer func() {
		// The caller's context may already be cancelled (scheduled rebuilds
		// during shutdown); the release must still reach Redis or the lease
		// blocks other processes until it expires.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := c.locker.Release(releaseCtx, lockName); err != nil {
			log.Printf("Failed to release rebuild lock %s: %v", lockName, err)
		}
	}()

	if !force {
		fresh, err := c.isFresh(userID, benchmark)
		if err != nil {
			log.Printf("Freshness check failed for user=%s benchmark=%s, rebuilding anyway: %v", userID, benchmark, err)
		} else if fresh {
			c.skipped.Add(1)
			log.Printf("Cache fresh for user=%s benchmark=%s, skipping rebuild", userID, benchmark)
			return nil
		}
	}

	if err := c.rebuild(ctx, userID, benchmark); err != nil {
		c.failures.Add(1)
		log.Printf("Rebuild failed for user=%s benchmark=%s after %s: %v", userID, benchmark, time.Since(started), err)
		if c.publisher != nil {
			if pubErr := c.publisher.PublishRebuildFailed(ctx, userID, benchmark, err); pubErr != nil {
				log.Printf("Failed to publish rebuild failure event: %v", pubErr)
			}
		}
		return err
	}

	c.rebuilds.Add(1)
	elapsed := time.Since(started)
	log.Printf("Rebuilt series for user=%s benchmark=%s in %s", userID, benchmark, elapsed)
	if c.publisher != nil {
		if pubErr := c.publisher.PublishRebuildCompleted(ctx, userID, benchmark, elapsed); pubErr != nil {
			log.Printf("Failed to publish rebuild completion event: %v", pubErr)
		}
	}
	return nil
}

// isFresh reports whether the cached series already reflects the latest
// ledger change.
func (c *Coordinator) isFresh(userID, benchmark string) (bool, error) {
	latestTx, hasTx, err := c.txs.GetLatestTransactionTime(userID)
	if err != nil {
		return false, err
	}
	if !hasTx {
		// Empty ledger: nothing a rebuild could add.
		return true, nil
	}

	latestCache, hasCache, err := c.store.GetLatestCacheTime(userID, benchmark)
	if err != nil {
		return false, err
	}
	if !hasCache {
		return false, nil
	}
	return !latestTx.After(latestCache), nil
}

func (c *Coordinator) rebuild(ctx context.Context, userID, benchmark string) error {
	txs, err := c.txs.GetTransactionsByUser(userID)
	if err != nil {
		return fmt.Errorf("failed to load ledger: %w", err)
	}
	if len(txs) == 0 {
		return nil
	}

	first, last, ok, err := c.txs.GetTransactionDateBounds(userID)
	if err != nil {
		return fmt.Errorf("failed to resolve date range: %w", err)
	}
	if !ok {
		return nil
	}

	start := first.AddDate(0, 0, -rangePaddingBefore)
	end := time.Now().Truncate(24 * time.Hour)
	if last.After(end) {
		end = last
	}
	end = end.AddDate(0, 0, rangePaddingAfter)

	portfolio, err := c.builder.BuildPortfolioSeries(ctx, txs, start, end)
	if err != nil {
		return fmt.Errorf("failed to build portfolio series: %w", err)
	}
	benchSeries, err := c.builder.BuildBenchmarkSeries(ctx, txs, benchmark, start, end)
	if err != nil {
		return fmt.Errorf("failed to build benchmark series: %w", err)
	}

	// Both series computed; only now touch the cache.
	if err := c.store.WriteBulk(userID, models.SeriesKeyPortfolio, portfolio); err != nil {
		return fmt.Errorf("failed to write portfolio series: %w", err)
	}
	if err := c.store.WriteBulk(userID, benchmark, benchSeries); err != nil {
		return fmt.Errorf("failed to write benchmark series: %w", err)
	}
	return nil
}

// Invalidate deletes cached series for the user and schedules asynchronous
// rebuilds. It does not wait for them. An empty benchmark list means every
// series the user has cached.
func (c *Coordinator) Invalidate(userID string, benchmarks []string) error {
	if len(benchmarks) == 0 {
		stats, err := c.store.GetSeriesStats(userID)
		if err != nil {
			return err
		}
		for _, s := range stats {
			benchmarks = append(benchmarks, s.Benchmark)
		}
	}

	removed, err := c.store.InvalidateSeries(userID, benchmarks)
	if err != nil {
		return err
	}
	log.Printf("Invalidated %d cached series rows for user=%s", removed, userID)
	if c.publisher != nil {
		if pubErr := c.publisher.PublishCacheInvalidated(c.baseCtx, userID); pubErr != nil {
			log.Printf("Failed to publish cache invalidation event: %v", pubErr)
		}
	}
	c.Schedule(userID, benchmarks)
	return nil
}

// Schedule runs forced rebuilds for the given benchmarks on background
// goroutines. Stop waits for all scheduled work before returning.
func (c *Coordinator) Schedule(userID string, benchmarks []string) {
	for _, benchmark := range benchmarks {
		if benchmark == models.SeriesKeyPortfolio {
			continue
		}
		c.wg.Add(1)
		go func(benchmark string) {
			defer c.wg.Done()
			if err := c.Rebuild(c.baseCtx, userID, benchmark, true); err != nil && !errors.Is(err, ErrRebuildInProgress) {
				log.Printf("Scheduled rebuild failed for user=%s benchmark=%s: %v", userID, benchmark, err)
			}
		}(benchmark)
	}
}

// Stop cancels in-flight background rebuilds and waits for them to finish.
func (c *Coordinator) Stop() {
	c.cancel()
	c.wg.Wait()
}

// Metrics returns a snapshot of rebuild counters.
func (c *Coordinator) Metrics() Metrics {
	return Metrics{
		Rebuilds: c.rebuilds.Load(),
		Skipped:  c.skipped.Load(),
		Failures: c.failures.Load(),
	}
}
