package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"crypto-risk/internal/db"
	"crypto-risk/internal/engine"
	"crypto-risk/internal/logger"
)

func newOptimizeCmd(a *app) *cobra.Command {
	var (
		f      runFlags
		mode   string
		target float64
	)
	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Solve a mean-variance optimal allocation",
		Long: `Solve the minimum-volatility, maximum-Sharpe or target-return allocation
for the portfolio's assets, subject to the configured per-asset weight cap
and short-selling setting. Writes optimal_allocation to the output directory.`,
		Example: `  crypto-risk optimize --mode max-sharpe
  crypto-risk optimize --mode target-return --target-return 0.25 --pretty`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := f.resolve(cmd, a.cfg); err != nil {
				return err
			}
			obj, err := engine.ParseObjective(mode)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("target-return") {
				target = a.cfg.Optimization.TargetReturn
			}
			return a.runOptimize(cmd, &f, obj, target)
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&mode, "mode", "max-sharpe", "Objective: min-vol, max-sharpe or target-return")
	cmd.Flags().Float64Var(&target, "target-return", 0, "Annual target return for --mode target-return (default from config)")
	return cmd
}

func (a *app) runOptimize(cmd *cobra.Command, f *runFlags, obj engine.Objective, target float64) error {
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
	logger.Section(fmt.Sprintf("Optimize %s (%s)", ds.Portfolio.Name, obj))

	bounds := a.cfg.Bounds(len(ds.Returns.Symbols))
	res, err := a.optimizer().Optimize(ds.Returns, obj, target, bounds, f.rf)
	if err != nil {
		return err
	}
	logger.Stats("Expected return (ann.)", percent(res.ExpectedReturn))
	logger.Stats("Volatility (ann.)", percent(res.Volatility))
	logger.Stats("Sharpe", fixed(res.Sharpe, 2))

	path, err := f.writer().Allocation("optimal_allocation", res.Weights)
	if err != nil {
		return err
	}
	logger.Success("Output", "wrote "+path)

	if f.pretty {
		printAllocation(a.out, "Current allocation", ds.Weights)
		printAllocation(a.out, fmt.Sprintf("Optimal allocation (%s)", obj), res.Weights)
	}

	params := f.params()
	params["mode"] = string(obj)
	if obj == engine.ObjectiveTargetReturn {
		params["target_return"] = target
	}
	recordRun(database, db.RunRecord{
		Command:        "optimize",
		Portfolio:      ds.Portfolio.Name,
		Assets:         len(res.Weights),
		Objective:      string(obj),
		ExpectedReturn: res.ExpectedReturn,
		Volatility:     res.Volatility,
		Sharpe:         res.Sharpe,
	}, started, params, res.Weights)
	return nil
}
