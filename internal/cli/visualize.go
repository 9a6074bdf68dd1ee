package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"crypto-risk/internal/db"
	"crypto-risk/internal/engine"
	"crypto-risk/internal/logger"
	"crypto-risk/internal/report"
)

func newVisualizeCmd(a *app) *cobra.Command {
	var (
		f          runFlags
		htmlReport bool
	)
	cmd := &cobra.Command{
		Use:   "visualize",
		Short: "Render risk charts, the efficient frontier and an optional HTML report",
		Long: `Render risk bars, the correlation heatmap, the allocation pie and the
efficient frontier as PNG files, export the frontier table and, with --report,
a self-contained report.html that explains the figures.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := f.resolve(cmd, a.cfg); err != nil {
				return err
			}
			return a.runVisualize(cmd, &f, htmlReport)
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&htmlReport, "report", false, "Also write report.html")
	return cmd
}

func (a *app) runVisualize(cmd *cobra.Command, f *runFlags, htmlReport bool) error {
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
	logger.Section("Visualize " + ds.Portfolio.Name)

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

	n := a.cfg.Optimization.FrontierPoints
	points, err := a.optimizer().EfficientFrontier(ds.Returns, n, a.cfg.Bounds(len(ds.Returns.Symbols)))
	if err != nil {
		return err
	}
	if len(points) < n {
		logger.Warn("Frontier", fmt.Sprintf("%d of %d frontier targets solved", len(points), n))
	}

	opts := report.ChartOptions{
		Theme:  a.cfg.Visualization.Theme,
		Width:  a.cfg.Visualization.Width,
		Height: a.cfg.Visualization.Height,
	}
	images := map[string]bool{}
	for _, c := range []struct {
		file   string
		render func(path string) error
	}{
		{report.RiskBarsFile, func(p string) error { return report.RiskBarsPNG(p, metrics, opts) }},
		{report.CorrelationFile, func(p string) error { return report.CorrelationPNG(p, corr, opts) }},
		{report.AllocationFile, func(p string) error { return report.AllocationPNG(p, ds.Weights, opts) }},
		{report.FrontierFile, func(p string) error { return report.FrontierPNG(p, points, opts) }},
	} {
		path := filepath.Join(f.outdir, c.file)
		if err := c.render(path); err != nil {
			logger.Warn("Chart", fmt.Sprintf("%s skipped: %v", c.file, err))
			continue
		}
		images[c.file] = true
		logger.Success("Output", "wrote "+path)
	}

	path, err := f.writer().Frontier(points)
	if err != nil {
		return err
	}
	logger.Success("Output", "wrote "+path)

	if htmlReport {
		path := filepath.Join(f.outdir, report.ReportFile)
		err := report.WriteHTML(path, report.Data{
			AppName:         a.cfg.App.Name,
			PortfolioName:   ds.Portfolio.Name,
			TotalValue:      ds.Total,
			PortfolioReturn: ret,
			PortfolioVol:    vol,
			PortfolioSharpe: sharpe,
			Params:          report.Params{Days: f.days, RiskFreeRate: f.rf, Confidence: f.confidence},
			Metrics:         metrics,
			Weights:         ds.Weights,
			Correlation:     corr,
			Frontier:        points,
			Images:          images,
		})
		if err != nil {
			return err
		}
		logger.Success("Output", "wrote "+path)
	}

	if f.pretty {
		printMetrics(a.out, metrics)
		printFrontier(a.out, points)
	}

	params := f.params()
	params["report"] = htmlReport
	recordRun(database, db.RunRecord{
		Command:        "visualize",
		Portfolio:      ds.Portfolio.Name,
		Assets:         len(ds.Weights),
		ExpectedReturn: ret,
		Volatility:     vol,
		Sharpe:         sharpe,
	}, started, params, map[string]any{
		"frontier_points": len(points),
		"charts":          len(images),
	})
	return nil
}
