package cryptocompare

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"crypto-risk/internal/db"
	"crypto-risk/internal/engine"
)

// ErrNotCached is returned in offline mode when a symbol has no cached history.
var ErrNotCached = errors.New("not in cache")

// Source is the remote price API.
type Source interface {
	HistoricalDaily(ctx context.Context, symbol, currency string, days int) ([]engine.PricePoint, error)
	CurrentPrice(ctx context.Context, symbol, currency string) (float64, error)
}

// PriceStore is a persistent cache for daily closes.
type PriceStore interface {
	GetPrices(symbol string, days int, ttl time.Duration, mode db.CacheMode) ([]engine.PricePoint, bool)
	SetPrices(symbol string, days int, points []engine.PricePoint) error
}

// FetchOptions controls one fetch.
type FetchOptions struct {
	Days int
	// Offline reads the cache only and accepts stale entries.
	Offline bool
	// Refresh skips the cache read; fetched data is still written back.
	Refresh bool
}

func (o FetchOptions) validate() error {
	if o.Days < 1 {
		return fmt.Errorf("days must be positive, got %d", o.Days)
	}
	if o.Offline && o.Refresh {
		return errors.New("offline and refresh cannot be combined")
	}
	return nil
}

// Fetcher resolves price history through the cache first, then the API.
// Concurrent requests for the same symbol share one upstream call.
type Fetcher struct {
	source      Source
	store       PriceStore
	ttl         time.Duration
	currency    string
	concurrency int
	log         logrus.FieldLogger

	group singleflight.Group
	mu    sync.Mutex
	stats FetchStats
}

// FetchStats counts where histories came from.
type FetchStats struct {
	CacheHits int `json:"cache_hits"`
	APICalls  int `json:"api_calls"`
}

// NewFetcher wires a source and an optional store. A nil store disables caching.
func NewFetcher(source Source, store PriceStore, ttl time.Duration, concurrency int, log logrus.FieldLogger) *Fetcher {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Fetcher{
		source:      source,
		store:       store,
		ttl:         ttl,
		currency:    DefaultCurrency,
		concurrency: concurrency,
		log:         log.WithField("component", "fetcher"),
	}
}

// Stats returns cache hit and API call counts so far.
func (f *Fetcher) Stats() FetchStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

// History returns the daily closes of one symbol.
func (f *Fetcher) History(ctx context.Context, symbol string, opts FetchOptions) (engine.PriceSeries, error) {
	if err := opts.validate(); err != nil {
		return engine.PriceSeries{}, err
	}
	symbol = strings.ToUpper(symbol)
	key := fmt.Sprintf("%s|%d|%t|%t", symbol, opts.Days, opts.Offline, opts.Refresh)

	v, err, _ := f.group.Do(key, func() (any, error) {
		return f.history(ctx, symbol, opts)
	})
	if err != nil {
		return engine.PriceSeries{}, err
	}
	return engine.PriceSeries{Symbol: engine.Symbol(symbol), Points: v.([]engine.PricePoint)}, nil
}

func (f *Fetcher) history(ctx context.Context, symbol string, opts FetchOptions) ([]engine.PricePoint, error) {
	if f.store != nil && !opts.Refresh {
		mode := db.CacheFresh
		if opts.Offline {
			mode = db.CacheStale
		}
		if points, ok := f.store.GetPrices(symbol, opts.Days, f.ttl, mode); ok {
			f.count(true)
			f.log.WithField("symbol", symbol).Debug("cache hit")
			return points, nil
		}
	}
	if opts.Offline {
		return nil, fmt.Errorf("%s: %w (run without --offline first)", symbol, ErrNotCached)
	}

	points, err := f.source.HistoricalDaily(ctx, symbol, f.currency, opts.Days)
	if err != nil {
		return nil, err
	}
	f.count(false)
	f.log.WithFields(logrus.Fields{"symbol": symbol, "points": len(points)}).Debug("fetched history")

	if f.store != nil {
		if err := f.store.SetPrices(symbol, opts.Days, points); err != nil {
			f.log.WithError(err).WithField("symbol", symbol).Warn("cache write failed")
		}
	}
	return points, nil
}

func (f *Fetcher) count(hit bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if hit {
		f.stats.CacheHits++
	} else {
		f.stats.APICalls++
	}
}

// HistoryAll fetches every symbol concurrently and returns the series in
// input order. The first error cancels the rest.
func (f *Fetcher) HistoryAll(ctx context.Context, symbols []string, opts FetchOptions) ([]engine.PriceSeries, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	out := make([]engine.PriceSeries, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for i, sym := range symbols {
		g.Go(func() error {
			s, err := f.History(gctx, sym, opts)
			if err != nil {
				return fmt.Errorf("history %s: %w", sym, err)
			}
			out[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// CurrentPrices returns the spot price of every symbol. Offline, the last
// cached close stands in for the spot price.
func (f *Fetcher) CurrentPrices(ctx context.Context, symbols []string, opts FetchOptions) (map[string]float64, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(symbols))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for _, sym := range symbols {
		sym := strings.ToUpper(sym)
		g.Go(func() error {
			var p float64
			if opts.Offline {
				s, err := f.History(gctx, sym, opts)
				if err != nil {
					return err
				}
				if len(s.Points) == 0 {
					return fmt.Errorf("%s: %w", sym, ErrNotCached)
				}
				p = s.Points[len(s.Points)-1].Price
			} else {
				var err error
				if p, err = f.source.CurrentPrice(gctx, sym, f.currency); err != nil {
					return fmt.Errorf("price %s: %w", sym, err)
				}
			}
			mu.Lock()
			out[sym] = p
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
