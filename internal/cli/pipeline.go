package cli

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/spf13/cobra"

	"crypto-risk/internal/config"
	"crypto-risk/internal/cryptocompare"
	"crypto-risk/internal/db"
	"crypto-risk/internal/engine"
	"crypto-risk/internal/logger"
	"crypto-risk/internal/portfolio"
	"crypto-risk/internal/report"
)

// runFlags are the options shared by analyze, optimize and visualize.
// Zero values fall back to the config file.
type runFlags struct {
	portfolio  string
	days       int
	rf         float64
	confidence float64
	outdir     string
	format     string
	pretty     bool
	offline    bool
	refresh    bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&f.portfolio, "portfolio", "p", "", "Portfolio JSON file (default from config)")
	fs.IntVar(&f.days, "days", 0, "History window in days (default from config)")
	fs.Float64Var(&f.rf, "rf", 0, "Annual risk-free rate, e.g. 0.02 (default from config)")
	fs.Float64Var(&f.confidence, "confidence", 0, "VaR confidence level, e.g. 0.95 (default from config)")
	fs.StringVarP(&f.outdir, "outdir", "o", "", "Output directory (default from config)")
	fs.StringVar(&f.format, "format", string(report.FormatCSV), "Export format: csv or json")
	fs.BoolVar(&f.pretty, "pretty", false, "Print readable tables to the terminal")
	fs.BoolVar(&f.offline, "offline", false, "Use cached prices only and avoid network calls")
	fs.BoolVar(&f.refresh, "refresh-cache", false, "Bypass the price cache and refetch from the API")
	cmd.MarkFlagsMutuallyExclusive("offline", "refresh-cache")
}

// resolve fills unset flags from cfg and validates the result.
func (f *runFlags) resolve(cmd *cobra.Command, cfg *config.Config) error {
	changed := cmd.Flags().Changed
	if f.portfolio == "" {
		f.portfolio = cfg.Data.DefaultPortfolioPath
	}
	if !changed("days") {
		f.days = cfg.Risk.Days
	}
	if !changed("rf") {
		f.rf = cfg.Risk.RiskFreeRate
	}
	if !changed("confidence") {
		f.confidence = cfg.Risk.Confidence
	}
	if f.outdir == "" {
		f.outdir = cfg.Visualization.OutputDir
	}
	if f.days < 2 {
		return fmt.Errorf("--days must be at least 2, got %d", f.days)
	}
	if !(f.confidence > 0 && f.confidence < 1) {
		return fmt.Errorf("--confidence must be in (0, 1), got %v", f.confidence)
	}
	if _, err := report.ParseFormat(f.format); err != nil {
		return err
	}
	return nil
}

func (f *runFlags) writer() report.Writer {
	return report.Writer{Dir: f.outdir, Format: report.Format(f.format)}
}

func (f *runFlags) params() map[string]any {
	return map[string]any{
		"portfolio":  f.portfolio,
		"days":       f.days,
		"rf":         f.rf,
		"confidence": f.confidence,
		"outdir":     f.outdir,
		"format":     f.format,
		"offline":    f.offline,
		"refresh":    f.refresh,
	}
}

// dataset is a priced portfolio with its aligned price and returns tables.
type dataset struct {
	Portfolio *portfolio.Portfolio
	Prices    *engine.Table
	Returns   *engine.Table
	Weights   engine.Weights
	Total     float64
}

func (a *app) openDB() (*db.DB, error) {
	database, err := db.Open(a.cfg.Data.CachePath)
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", a.cfg.Data.CachePath, err)
	}
	return database, nil
}

// loadDataset loads the portfolio, prices every holding and builds the
// returns table from the cached or fetched daily closes.
func (a *app) loadDataset(ctx context.Context, database *db.DB, f *runFlags) (*dataset, error) {
	p, err := portfolio.Load(f.portfolio)
	if err != nil {
		return nil, err
	}
	logger.Debug("Data", fmt.Sprintf("loaded %s with %d holdings", p.Name, len(p.Assets)))

	fetcher := cryptocompare.NewFetcher(a.newSource(a.cfg), database, a.cfg.Data.CacheTTL, a.cfg.API.Concurrency, logger.L())
	opts := cryptocompare.FetchOptions{Days: f.days, Offline: f.offline, Refresh: f.refresh}
	symbols := p.Symbols()

	current, err := fetcher.CurrentPrices(ctx, symbols, opts)
	if err != nil {
		return nil, fmt.Errorf("current prices: %w", err)
	}
	if err := p.SetPrices(current); err != nil {
		return nil, err
	}

	series, err := fetcher.HistoryAll(ctx, symbols, opts)
	if err != nil {
		return nil, err
	}
	prices, err := engine.AlignPrices(series...)
	if err != nil {
		return nil, fmt.Errorf("align prices: %w", err)
	}
	returns, err := engine.ToReturns(prices)
	if err != nil {
		return nil, fmt.Errorf("returns: %w", err)
	}

	weights, err := p.Weights()
	if err != nil {
		return nil, err
	}
	total, err := p.TotalValue()
	if err != nil {
		return nil, err
	}

	stats := fetcher.Stats()
	logger.Debug("Data", fmt.Sprintf("%d cache hits, %d API calls, %d aligned rows",
		stats.CacheHits, stats.APICalls, prices.Rows()))
	return &dataset{
		Portfolio: p,
		Prices:    prices,
		Returns:   returns,
		Weights:   weights,
		Total:     total.InexactFloat64(),
	}, nil
}

// portfolioStats returns the annualized return, volatility and Sharpe of
// the current holdings. Sharpe is NaN at zero volatility.
func portfolioStats(returns *engine.Table, w engine.Weights, rf float64, ppy int) (ret, vol, sharpe float64, err error) {
	if vol, err = engine.PortfolioVolatility(returns, w, ppy); err != nil {
		return 0, 0, 0, err
	}
	if ret, err = engine.PortfolioReturn(returns, w, ppy); err != nil {
		return 0, 0, 0, err
	}
	sharpe = math.NaN()
	if vol > 0 {
		sharpe = (ret - rf) / vol
	}
	return ret, vol, sharpe, nil
}

func (a *app) metricsParams(f *runFlags) engine.MetricsParams {
	return engine.MetricsParams{
		RiskFreeRate:   f.rf,
		Confidence:     f.confidence,
		PeriodsPerYear: a.cfg.Risk.PeriodsPerYear,
	}
}

func (a *app) optimizer() *engine.Optimizer {
	return engine.NewOptimizer(logger.L(), a.cfg.OptimizerOptions()...)
}

// recordRun appends the run to the history table. A failed write is only
// logged.
func recordRun(database *db.DB, r db.RunRecord, started time.Time, params, result any) {
	r.DurationMs = time.Since(started).Milliseconds()
	if _, err := database.InsertRun(r, params, result); err != nil {
		logger.Warn("History", fmt.Sprintf("could not record run: %v", err))
	}
}
