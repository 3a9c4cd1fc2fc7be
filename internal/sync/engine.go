// Package sync drives candle synchronisation: single-pair syncs, per-granularity
// sweeps over every persisted table, the two-cadence scheduling loop, and
// symbol onboarding.
package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"candlesync/internal/store"
	"candlesync/pkg/journal"
	"candlesync/pkg/market"
)

const (
	defaultIntradayEvery = 5 * time.Minute
	defaultDailyEvery    = time.Hour
	defaultDisplayRows   = 3
)

// TableStore is the persistence surface the engine consumes.
type TableStore interface {
	EnsureTable(ctx context.Context, symbol string, g market.Granularity) (store.Table, error)
	Watermark(ctx context.Context, table store.Table) (*time.Time, error)
	InsertRows(ctx context.Context, table store.Table, rows []market.Candle) (int, error)
	ListTables(ctx context.Context, g market.Granularity) ([]store.Table, error)
	RecentRows(ctx context.Context, table store.Table, limit int) ([]market.Candle, error)
}

// SyncResult reports the outcome of one pair sync.
type SyncResult struct {
	Table         store.Table
	Inserted      int
	SkippedClosed bool
	Throttled     bool
}

// SweepResult aggregates one sweep over every table of a granularity.
type SweepResult struct {
	Granularity   market.Granularity
	Symbols       []string
	Inserted      int
	SkippedClosed int
	Throttled     int
	Failures      map[string]string
	Duration      time.Duration
}

// AddResult reports symbol onboarding. Resolved false with a nil error means
// the tables exist but the ticker did not validate upstream; later sweeps
// retry it for free.
type AddResult struct {
	Symbol   string
	Tables   []store.Table
	Resolved bool
	Inserted int
}

// Engine coordinates provider fetches with table persistence.
type Engine struct {
	store    TableStore
	provider market.Provider
	clock    *market.Clock
	journal  *journal.Writer

	symbolDelay time.Duration
	displayRows int
	display     io.Writer
	nowFn       func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithJournal records a JSON journal entry per sweep.
func WithJournal(w *journal.Writer) EngineOption {
	return func(e *Engine) { e.journal = w }
}

// WithSymbolDelay spaces consecutive per-symbol fetches inside a sweep.
func WithSymbolDelay(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d >= 0 {
			e.symbolDelay = d
		}
	}
}

// WithDisplay echoes the most recent rows after each sync to w, most recent
// first. Interactive use only.
func WithDisplay(w io.Writer, rows int) EngineOption {
	return func(e *Engine) {
		e.display = w
		if rows > 0 {
			e.displayRows = rows
		}
	}
}

// WithNowFunc overrides the time source. Test hook.
func WithNowFunc(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.nowFn = now
		}
	}
}

// NewEngine constructs the sync engine. A nil clock falls back to the default
// market calendar.
func NewEngine(st TableStore, provider market.Provider, clock *market.Clock, opts ...EngineOption) *Engine {
	if clock == nil {
		clock = market.DefaultClock()
	}
	e := &Engine{
		store:       st,
		provider:    provider,
		clock:       clock,
		displayRows: defaultDisplayRows,
		nowFn:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SyncOne brings a single (symbol, granularity) table up to date: ensure the
// table, read the watermark, fetch what is missing, insert idempotently.
// Throttle and market-closed skips are reported in the result, not as errors.
func (e *Engine) SyncOne(ctx context.Context, symbol string, g market.Granularity) (SyncResult, error) {
	table, err := e.store.EnsureTable(ctx, symbol, g)
	if err != nil {
		return SyncResult{}, err
	}
	result := SyncResult{Table: table}

	if g == market.Intraday && !e.clock.IsOpen(e.nowFn()) {
		result.SkippedClosed = true
		logx.WithContext(ctx).Infof("sync: market closed, %s left at last persisted state", table)
		e.displayLatest(ctx, table)
		return result, nil
	}

	watermark, err := e.store.Watermark(ctx, table)
	if err != nil {
		return result, err
	}

	rows, err := e.provider.Fetch(ctx, table.Symbol, g, watermark)
	if err != nil {
		if errors.Is(err, market.ErrThrottled) {
			result.Throttled = true
			logx.WithContext(ctx).Infof("sync: %s throttled: %v", table, err)
			return result, nil
		}
		return result, fmt.Errorf("sync: fetch %s: %w", table, err)
	}

	inserted, err := e.store.InsertRows(ctx, table, rows)
	if err != nil {
		return result, err
	}
	result.Inserted = inserted

	logx.WithContext(ctx).Infof("sync: %s fetched=%d inserted=%d", table, len(rows), inserted)
	e.displayLatest(ctx, table)
	return result, nil
}

// Sweep syncs every persisted table of one granularity sequentially. A failing
// symbol is recorded and skipped; the sweep always visits the full set.
func (e *Engine) Sweep(ctx context.Context, g market.Granularity) (SweepResult, error) {
	start := e.nowFn()
	result := SweepResult{Granularity: g, Failures: make(map[string]string)}

	tables, err := e.store.ListTables(ctx, g)
	if err != nil {
		return result, fmt.Errorf("sync: sweep %s: %w", g, err)
	}

	for i, table := range tables {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if i > 0 && !sleepWithContext(ctx, e.symbolDelay) {
			return result, ctx.Err()
		}

		result.Symbols = append(result.Symbols, table.Symbol)
		one, err := e.SyncOne(ctx, table.Symbol, g)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			logx.WithContext(ctx).Errorf("sync: sweep %s: %s failed: %v", g, table.Symbol, err)
			result.Failures[table.Symbol] = err.Error()
			continue
		}
		result.Inserted += one.Inserted
		if one.SkippedClosed {
			result.SkippedClosed++
		}
		if one.Throttled {
			result.Throttled++
		}
	}

	result.Duration = e.nowFn().Sub(start)
	logx.WithContext(ctx).Infof("sync: sweep %s done: symbols=%d inserted=%d closed=%d throttled=%d failed=%d in %s",
		g, len(result.Symbols), result.Inserted, result.SkippedClosed, result.Throttled, len(result.Failures), result.Duration.Round(time.Millisecond))
	e.writeJournal(ctx, result)
	return result, nil
}

// SyncAll sweeps every granularity once.
func (e *Engine) SyncAll(ctx context.Context) ([]SweepResult, error) {
	results := make([]SweepResult, 0, len(market.Granularities))
	for _, g := range market.Granularities {
		swept, err := e.Sweep(ctx, g)
		if err != nil {
			return results, err
		}
		results = append(results, swept)
	}
	return results, nil
}

// RunForever runs the two-cadence loop until the context is cancelled: an
// intraday sweep on every tick, a daily sweep whenever its own interval has
// elapsed. The first cycle runs immediately.
func (e *Engine) RunForever(ctx context.Context, intradayEvery, dailyEvery time.Duration) error {
	if intradayEvery <= 0 {
		intradayEvery = defaultIntradayEvery
	}
	if dailyEvery <= 0 {
		dailyEvery = defaultDailyEvery
	}
	logx.WithContext(ctx).Infof("sync: loop started intraday_every=%s daily_every=%s", intradayEvery, dailyEvery)

	e.cycle(ctx, true)
	lastDaily := e.nowFn()

	ticker := time.NewTicker(intradayEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logx.WithContext(ctx).Info("sync: loop stopped")
			return ctx.Err()
		case <-ticker.C:
			runDaily := e.nowFn().Sub(lastDaily) >= dailyEvery
			e.cycle(ctx, runDaily)
			if runDaily {
				lastDaily = e.nowFn()
			}
		}
	}
}

func (e *Engine) cycle(ctx context.Context, includeDaily bool) {
	if _, err := e.Sweep(ctx, market.Intraday); err != nil && ctx.Err() == nil {
		logx.WithContext(ctx).Errorf("sync: intraday sweep: %v", err)
	}
	if !includeDaily || ctx.Err() != nil {
		return
	}
	if _, err := e.Sweep(ctx, market.Daily); err != nil && ctx.Err() == nil {
		logx.WithContext(ctx).Errorf("sync: daily sweep: %v", err)
	}
}

// AddSymbol onboards a ticker: both tables are created unconditionally, then a
// best-effort resolution and initial sync follow. A symbol that fails to
// resolve still ends up registered for future sweeps.
func (e *Engine) AddSymbol(ctx context.Context, symbol string) (AddResult, error) {
	result := AddResult{Symbol: symbol}
	for _, g := range market.Granularities {
		table, err := e.store.EnsureTable(ctx, symbol, g)
		if err != nil {
			return result, fmt.Errorf("sync: add %s: %w", symbol, err)
		}
		result.Tables = append(result.Tables, table)
	}

	resolved, err := e.provider.Resolve(ctx, symbol)
	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		logx.WithContext(ctx).Errorf("sync: add %s: resolution failed, tables registered for later sweeps: %v", symbol, err)
		return result, nil
	}
	result.Resolved = true
	logx.WithContext(ctx).Infof("sync: add %s resolved as %s", symbol, resolved)

	for _, g := range market.Granularities {
		one, err := e.SyncOne(ctx, symbol, g)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			logx.WithContext(ctx).Errorf("sync: add %s: initial %s sync: %v", symbol, g, err)
			continue
		}
		result.Inserted += one.Inserted
	}
	return result, nil
}

// AddSymbols onboards a batch sequentially, spacing symbols by the configured
// delay. One bad ticker never aborts the batch.
func (e *Engine) AddSymbols(ctx context.Context, symbols []string) ([]AddResult, map[string]string) {
	results := make([]AddResult, 0, len(symbols))
	failed := make(map[string]string)
	for i, symbol := range symbols {
		if ctx.Err() != nil {
			failed[symbol] = ctx.Err().Error()
			continue
		}
		if i > 0 && !sleepWithContext(ctx, e.symbolDelay) {
			failed[symbol] = ctx.Err().Error()
			continue
		}
		added, err := e.AddSymbol(ctx, symbol)
		if err != nil {
			failed[symbol] = err.Error()
			continue
		}
		results = append(results, added)
	}
	return results, failed
}

// displayLatest echoes the freshest rows to the attached writer.
func (e *Engine) displayLatest(ctx context.Context, table store.Table) {
	if e.display == nil || e.displayRows <= 0 {
		return
	}
	rows, err := e.store.RecentRows(ctx, table, e.displayRows)
	if err != nil {
		logx.WithContext(ctx).Errorf("sync: recent rows %s: %v", table, err)
		return
	}
	if len(rows) == 0 {
		fmt.Fprintf(e.display, "%s: no rows yet\n", table)
		return
	}
	fmt.Fprintf(e.display, "%s latest %d rows:\n", table, len(rows))
	for _, row := range rows {
		fmt.Fprintf(e.display, "  %s  o=%.2f h=%.2f l=%.2f c=%.2f v=%.0f\n",
			row.Datetime.In(e.clock.Location()).Format("2006-01-02 15:04 MST"),
			row.Open, row.High, row.Low, row.Close, row.Volume)
	}
}

func (e *Engine) writeJournal(ctx context.Context, result SweepResult) {
	if e.journal == nil {
		return
	}
	rec := &journal.SweepRecord{
		Granularity:    result.Granularity,
		Symbols:        result.Symbols,
		RowsInserted:   result.Inserted,
		SkippedClosed:  result.SkippedClosed,
		Throttled:      result.Throttled,
		Failures:       result.Failures,
		DurationMillis: result.Duration.Milliseconds(),
		Success:        len(result.Failures) == 0,
	}
	if len(rec.Failures) == 0 {
		rec.Failures = nil
	}
	if _, err := e.journal.WriteSweep(rec); err != nil {
		logx.WithContext(ctx).Errorf("sync: journal write: %v", err)
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
