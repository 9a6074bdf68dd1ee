package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"crypto-risk/internal/db"
	"crypto-risk/internal/engine"
	"crypto-risk/internal/logger"
)

func newAnalyzeCmd(a *app) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Compute per-asset risk metrics and the correlation matrix",
		Long: `Compute annualized volatility, Sharpe ratio and historical VaR for every
holding, the correlation matrix and the current allocation. Results are
written to metrics, allocation and correlation files in the output directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := f.resolve(cmd, a.cfg); err != nil {
				return err
			}
			return a.runAnalyze(cmd, &f)
		},
	}
	f.register(cmd)
	return cmd
}

func (a *app) runAnalyze(cmd *cobra.Command, f *runFlags) error {
	started := time.Now()
	database, err := a.openDB()
	if err != nil {
		return err
	}
	defer database.Close()

	ds, err := a.loadDataset(cmd.Context(), database, f)
	if err != nil {
		return err
	}
	logger.Section("Analyze " + ds.Portfolio.Name)
	logger.Stats("Total value (USD)", fmt.Sprintf("%.2f", ds.Total))

	metrics, err := engine.ComputeAssetMetrics(ds.Returns, a.metricsParams(f))
	if err != nil {
		return err
	}
	corr, err := engine.CorrelationMatrix(ds.Returns)
	if err != nil {
		return err
	}
	ret, vol, sharpe, err := portfolioStats(ds.Returns, ds.Weights, f.rf, a.cfg.Risk.PeriodsPerYear)
	if err != nil {
		return err
	}
	logger.Stats("Portfolio volatility (ann.)", percent(vol))
	logger.Stats("Portfolio Sharpe", fixed(sharpe, 2))

	w := f.writer()
	for _, write := range []func() (string, error){
		func() (string, error) { return w.Metrics(metrics) },
		func() (string, error) { return w.Allocation("allocation", ds.Weights) },
		func() (string, error) { return w.Correlation(corr) },
	} {
		path, err := write()
		if err != nil {
			return err
		}
		logger.Success("Output", "wrote "+path)
	}

	for i, s := range corr.Symbols {
		cells := make([]string, len(corr.Values[i]))
		for j, v := range corr.Values[i] {
			cells[j] = fixed(v, 3)
		}
		logger.Debug("Correlation", fmt.Sprintf("%s: %s", s, strings.Join(cells, " ")))
	}

	if f.pretty {
		printMetrics(a.out, metrics)
		printAllocation(a.out, "Allocation", ds.Weights)
		printCorrelation(a.out, corr)
	}

	recordRun(database, db.RunRecord{
		Command:        "analyze",
		Portfolio:      ds.Portfolio.Name,
		Assets:         len(ds.Weights),
		ExpectedReturn: ret,
		Volatility:     vol,
		Sharpe:         sharpe,
	}, started, f.params(), map[string]any{
		"total_value": ds.Total,
		"weights":     ds.Weights,
	})
	return nil
}
