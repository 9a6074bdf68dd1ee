package api

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"crypto-risk/internal/engine"
	"crypto-risk/internal/report"
)

const dateLayout = "2006-01-02"

// tableRequest carries a row-major table: values[row][column], with null for
// a missing observation. Exactly one of Prices or Returns is set.
type tableRequest struct {
	Symbols        []string     `json:"symbols" validate:"required,min=1,dive,required,max=20"`
	Dates          []string     `json:"dates,omitempty" validate:"omitempty,dive,datetime=2006-01-02"`
	Prices         [][]*float64 `json:"prices,omitempty" validate:"required_without=Returns"`
	Returns        [][]*float64 `json:"returns,omitempty" validate:"required_without=Prices"`
	PeriodsPerYear int          `json:"periods_per_year,omitempty" validate:"omitempty,gt=0"`
}

// boundsRequest picks per-asset weight bounds: explicit Bounds win, then
// MaxWeight (with ShortSelling), otherwise the long-only [0,1] box.
type boundsRequest struct {
	Bounds       [][2]float64 `json:"bounds,omitempty"`
	MaxWeight    *float64     `json:"max_weight,omitempty" validate:"omitempty,gt=0,lte=1"`
	ShortSelling bool         `json:"short_selling,omitempty"`
}

type analyzeRequest struct {
	tableRequest
	Weights      map[string]float64 `json:"weights,omitempty"`
	RiskFreeRate *float64           `json:"risk_free_rate,omitempty"`
	Confidence   *float64           `json:"confidence,omitempty" validate:"omitempty,gt=0,lt=1"`
}

type optimizeRequest struct {
	tableRequest
	boundsRequest
	Mode         string   `json:"mode" validate:"required"`
	TargetReturn *float64 `json:"target_return,omitempty"`
	RiskFreeRate *float64 `json:"risk_free_rate,omitempty"`
}

type frontierRequest struct {
	tableRequest
	boundsRequest
	NumPoints int `json:"num_points,omitempty" validate:"omitempty,min=1,max=500"`
}

// returnsTable builds the returns table, converting prices when given.
func (t tableRequest) returnsTable() (*engine.Table, error) {
	if t.Prices != nil && t.Returns != nil {
		return nil, fmt.Errorf("%w: give prices or returns, not both", engine.ErrInvalidInput)
	}
	rows := t.Returns
	if t.Prices != nil {
		rows = t.Prices
	}
	symbols := make([]engine.Symbol, len(t.Symbols))
	for i, s := range t.Symbols {
		symbols[i] = engine.Symbol(s)
	}
	columns := make([][]float64, len(symbols))
	for j := range columns {
		columns[j] = make([]float64, len(rows))
	}
	for i, row := range rows {
		if len(row) != len(symbols) {
			return nil, fmt.Errorf("%w: row %d has %d values for %d symbols", engine.ErrInvalidInput, i, len(row), len(symbols))
		}
		for j, v := range row {
			if v == nil {
				columns[j][i] = math.NaN()
			} else {
				columns[j][i] = *v
			}
		}
	}

	var dates []time.Time
	if len(t.Dates) > 0 {
		dates = make([]time.Time, len(t.Dates))
		for i, d := range t.Dates {
			parsed, err := time.Parse(dateLayout, d)
			if err != nil {
				return nil, fmt.Errorf("%w: date %q: %v", engine.ErrInvalidInput, d, err)
			}
			dates[i] = parsed
		}
	}

	tbl, err := engine.NewTable(dates, symbols, columns)
	if err != nil {
		return nil, err
	}
	if t.Prices != nil {
		return engine.ToReturns(tbl)
	}
	return tbl, nil
}

func (s *Server) periods(t tableRequest) int {
	if t.PeriodsPerYear > 0 {
		return t.PeriodsPerYear
	}
	return s.cfg.Risk.PeriodsPerYear
}

func (s *Server) optimizerFor(t tableRequest) *engine.Optimizer {
	if t.PeriodsPerYear <= 0 || t.PeriodsPerYear == s.cfg.Risk.PeriodsPerYear {
		return s.optimizer
	}
	opts := append(s.cfg.OptimizerOptions(), engine.WithPeriodsPerYear(t.PeriodsPerYear))
	return engine.NewOptimizer(s.log, opts...)
}

func (b boundsRequest) resolve(n int) engine.Bounds {
	switch {
	case b.Bounds != nil:
		out := make(engine.Bounds, len(b.Bounds))
		for i, lu := range b.Bounds {
			out[i] = engine.Bound{Lower: lu[0], Upper: lu[1]}
		}
		return out
	case b.MaxWeight != nil && b.ShortSelling:
		return engine.ShortAllowedBounds(n, *b.MaxWeight)
	case b.MaxWeight != nil:
		return engine.LongOnlyBounds(n, *b.MaxWeight)
	}
	return nil
}

func orDefault(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func weightsJSON(w engine.Weights) map[string]*float64 {
	out := make(map[string]*float64, len(w))
	for s, v := range w {
		out[string(s)] = report.Num(v)
	}
	return out
}

type portfolioJSON struct {
	ExpectedReturn *float64 `json:"expected_return"`
	Volatility     *float64 `json:"volatility"`
	Sharpe         *float64 `json:"sharpe"`
}

type analyzeResponse struct {
	Assets       int                    `json:"assets"`
	Observations int                    `json:"observations"`
	Metrics      []report.MetricsRecord `json:"metrics"`
	Correlation  report.MatrixSplit     `json:"correlation"`
	Covariance   report.MatrixSplit     `json:"covariance"`
	Portfolio    *portfolioJSON         `json:"portfolio,omitempty"`
	Warnings     []string               `json:"warnings,omitempty"`
}

// weightSumTolerance is how far supplied weights may drift from a full
// allocation before the response carries a warning.
const weightSumTolerance = 1e-3

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !s.decode(w, r, &req) {
		return
	}
	tbl, err := req.returnsTable()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ppy := s.periods(req.tableRequest)
	rf := orDefault(req.RiskFreeRate, s.cfg.Risk.RiskFreeRate)

	metrics, err := engine.ComputeAssetMetrics(tbl, engine.MetricsParams{
		RiskFreeRate:   rf,
		Confidence:     orDefault(req.Confidence, s.cfg.Risk.Confidence),
		PeriodsPerYear: ppy,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	corr, err := engine.CorrelationMatrix(tbl)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	cov, err := engine.CovarianceMatrix(tbl)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	resp := analyzeResponse{
		Assets:       len(tbl.Symbols),
		Observations: tbl.Rows(),
		Metrics:      report.MetricsRecords(metrics),
		Correlation:  report.SplitMatrix(corr, 6),
		Covariance:   report.SplitMatrix(cov, 10),
	}
	if req.Weights != nil {
		weights := make(engine.Weights, len(req.Weights))
		for sym, v := range req.Weights {
			weights[engine.Symbol(sym)] = v
		}
		if err := weights.ValidateSum(weightSumTolerance); err != nil {
			s.log.WithError(err).Warn("analyze with a partial allocation")
			resp.Warnings = append(resp.Warnings, err.Error())
		}
		vol, err := engine.PortfolioVolatility(tbl, weights, ppy)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		ret, err := engine.PortfolioReturn(tbl, weights, ppy)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		sharpe := math.NaN()
		if vol > 0 {
			sharpe = (ret - rf) / vol
		}
		resp.Portfolio = &portfolioJSON{
			ExpectedReturn: report.Num(ret),
			Volatility:     report.Num(vol),
			Sharpe:         report.Num(sharpe),
		}
	}
	writeJSON(w, resp)
}

type optimizeResponse struct {
	Objective      engine.Objective    `json:"objective"`
	Weights        map[string]*float64 `json:"weights"`
	ExpectedReturn *float64            `json:"expected_return"`
	Volatility     *float64            `json:"volatility"`
	Sharpe         *float64            `json:"sharpe"`
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req optimizeRequest
	if !s.decode(w, r, &req) {
		return
	}
	obj, err := engine.ParseObjective(req.Mode)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	tbl, err := req.returnsTable()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rf := orDefault(req.RiskFreeRate, s.cfg.Risk.RiskFreeRate)
	target := orDefault(req.TargetReturn, s.cfg.Optimization.TargetReturn)

	start := time.Now()
	res, err := s.optimizerFor(req.tableRequest).Optimize(tbl, obj, target, req.resolve(len(tbl.Symbols)), rf)
	elapsed := time.Since(start)
	if err != nil {
		outcome := "invalid"
		if errors.Is(err, engine.ErrOptimizationFailed) {
			outcome = "failed"
		}
		s.metrics.RecordOptimization(string(obj), outcome, elapsed)
		s.fail(w, r, err)
		return
	}
	s.metrics.RecordOptimization(string(obj), "ok", elapsed)
	s.recordRun("api optimize", res, len(tbl.Symbols), elapsed, map[string]any{
		"mode": req.Mode, "target_return": target, "risk_free_rate": rf, "rows": tbl.Rows(),
	})

	writeJSON(w, optimizeResponse{
		Objective:      res.Objective,
		Weights:        weightsJSON(res.Weights),
		ExpectedReturn: report.Num(res.ExpectedReturn),
		Volatility:     report.Num(res.Volatility),
		Sharpe:         report.Num(res.Sharpe),
	})
}

type frontierResponse struct {
	Requested int                    `json:"requested"`
	Points    []engine.FrontierPoint `json:"points"`
}

func (s *Server) handleFrontier(w http.ResponseWriter, r *http.Request) {
	var req frontierRequest
	if !s.decode(w, r, &req) {
		return
	}
	tbl, err := req.returnsTable()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	n := req.NumPoints
	if n == 0 {
		n = s.cfg.Optimization.FrontierPoints
	}

	start := time.Now()
	points, err := s.optimizerFor(req.tableRequest).EfficientFrontier(tbl, n, req.resolve(len(tbl.Symbols)))
	if err != nil {
		s.metrics.RecordOptimization("frontier", "invalid", time.Since(start))
		s.fail(w, r, err)
		return
	}
	s.metrics.RecordOptimization("frontier", "ok", time.Since(start))
	s.metrics.RecordFrontier(len(points))
	if points == nil {
		points = []engine.FrontierPoint{}
	}
	writeJSON(w, frontierResponse{Requested: n, Points: points})
}
