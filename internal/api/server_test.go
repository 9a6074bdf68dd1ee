package api

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-risk/internal/config"
	"crypto-risk/internal/db"
)

func newTestServer(t *testing.T, withDB bool) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.API.Key = "secret"
	var database *db.DB
	if withDB {
		d, err := db.Open(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { d.Close() })
		database = d
	}
	return NewServer(cfg, database, "test")
}

// samplePrices builds 90 rows of deterministic, non-collinear prices for
// three assets.
func samplePrices() [][]*float64 {
	rows := make([][]*float64, 90)
	for i := range rows {
		x := float64(i)
		vals := []float64{
			100 * math.Exp(0.002*x+0.03*math.Sin(0.7*x)),
			50 * math.Exp(0.001*x+0.05*math.Sin(1.3*x+1)),
			10 * math.Exp(0.0005*x+0.02*math.Cos(0.4*x)),
		}
		row := make([]*float64, len(vals))
		for j := range vals {
			v := vals[j]
			row[j] = &v
		}
		rows[i] = row
	}
	return rows
}

func do(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out), rec.Body.String())
	return out
}

func TestHandleStatus(t *testing.T) {
	srv := newTestServer(t, true)
	rec := do(t, srv, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeBody(t, rec)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, "test", out["version"])
	assert.Equal(t, true, out["db"])
	assert.EqualValues(t, 2, out["schema_version"])
}

func TestHandleGetConfig_MasksKey(t *testing.T) {
	srv := newTestServer(t, false)
	rec := do(t, srv, http.MethodGet, "/api/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")
	assert.Contains(t, rec.Body.String(), `"***"`)
	assert.Equal(t, "secret", srv.cfg.API.Key, "stored config untouched")
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, false)
	rec := do(t, srv, http.MethodOptions, "/api/optimize", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHandleAnalyze(t *testing.T) {
	srv := newTestServer(t, false)
	rec := do(t, srv, http.MethodPost, "/api/analyze", map[string]any{
		"symbols": []string{"BTC", "ETH", "SOL"},
		"prices":  samplePrices(),
		"weights": map[string]float64{"BTC": 0.5, "ETH": 0.3, "SOL": 0.2},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out analyzeResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.Equal(t, 3, out.Assets)
	assert.Equal(t, 89, out.Observations)
	require.Len(t, out.Metrics, 3)
	assert.Equal(t, "BTC", out.Metrics[0].Asset)
	require.NotNil(t, out.Metrics[0].Volatility)
	assert.Greater(t, *out.Metrics[0].Volatility, 0.0)

	assert.Equal(t, []string{"BTC", "ETH", "SOL"}, out.Correlation.Columns)
	for i := range out.Correlation.Data {
		require.NotNil(t, out.Correlation.Data[i][i])
		assert.InDelta(t, 1.0, *out.Correlation.Data[i][i], 1e-9)
	}
	require.NotNil(t, out.Portfolio)
	require.NotNil(t, out.Portfolio.Volatility)
	assert.Greater(t, *out.Portfolio.Volatility, 0.0)
	assert.Empty(t, out.Warnings)
}

func TestHandleAnalyze_PartialAllocationWarns(t *testing.T) {
	srv := newTestServer(t, false)
	rec := do(t, srv, http.MethodPost, "/api/analyze", map[string]any{
		"symbols": []string{"BTC", "ETH", "SOL"},
		"prices":  samplePrices(),
		"weights": map[string]float64{"BTC": 0.5, "ETH": 0.2, "SOL": 0.1},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out analyzeResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	require.NotNil(t, out.Portfolio, "partial allocations are still analyzed")
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "weights sum to 0.80000000")
}

func TestHandleAnalyze_AllMissingColumn(t *testing.T) {
	srv := newTestServer(t, false)
	one, two := 0.01, -0.02
	rec := do(t, srv, http.MethodPost, "/api/analyze", map[string]any{
		"symbols": []string{"A", "FLAT"},
		"returns": [][]*float64{{&one, nil}, {&two, nil}, {&one, nil}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out analyzeResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.Nil(t, out.Metrics[1].Volatility, "all-missing column has no volatility")
	assert.Nil(t, out.Portfolio)
}

func TestHandleAnalyze_MissingWeight(t *testing.T) {
	srv := newTestServer(t, false)
	rec := do(t, srv, http.MethodPost, "/api/analyze", map[string]any{
		"symbols": []string{"BTC", "ETH", "SOL"},
		"prices":  samplePrices(),
		"weights": map[string]float64{"BTC": 1},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "missing weight")
}

func TestHandleAnalyze_BadRequests(t *testing.T) {
	srv := newTestServer(t, false)
	v := 1.0
	tests := []struct {
		name string
		body string
		want string
	}{
		{"malformed", `{"symbols": [`, "invalid json"},
		{"unknown field", `{"symbols": ["A"], "returns": [[1]], "bogus": 1}`, "invalid json"},
		{"no symbols", `{"returns": [[1]]}`, "symbols is required"},
		{"no data", `{"symbols": ["A"]}`, "one of prices or returns is required"},
		{"bad date", `{"symbols": ["A"], "returns": [[1]], "dates": ["01/02/2024"]}`, "must be a YYYY-MM-DD date"},
		{"bad confidence", `{"symbols": ["A"], "returns": [[1]], "confidence": 1.5}`, "confidence failed lt=1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/analyze", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, decodeBody(t, rec)["error"], tt.want)
		})
	}

	t.Run("ragged row", func(t *testing.T) {
		rec := do(t, srv, http.MethodPost, "/api/analyze", map[string]any{
			"symbols": []string{"A", "B"},
			"returns": [][]*float64{{&v, &v}, {&v}},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decodeBody(t, rec)["error"], "row 1 has 1 values")
	})

	t.Run("prices and returns", func(t *testing.T) {
		rec := do(t, srv, http.MethodPost, "/api/analyze", map[string]any{
			"symbols": []string{"A"},
			"returns": [][]*float64{{&v}},
			"prices":  [][]*float64{{&v}},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleOptimize(t *testing.T) {
	srv := newTestServer(t, true)
	for _, mode := range []string{"min-vol", "max-sharpe"} {
		t.Run(mode, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, "/api/optimize", map[string]any{
				"symbols":    []string{"BTC", "ETH", "SOL"},
				"prices":     samplePrices(),
				"mode":       mode,
				"max_weight": 0.6,
			})
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var out optimizeResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
			sum := 0.0
			for sym, w := range out.Weights {
				require.NotNil(t, w, sym)
				assert.LessOrEqual(t, *w, 0.6+1e-6)
				assert.GreaterOrEqual(t, *w, -1e-9)
				sum += *w
			}
			assert.InDelta(t, 1.0, sum, 1e-6)
			require.NotNil(t, out.Volatility)
		})
	}

	runs := do(t, srv, http.MethodGet, "/api/history?limit=10", nil)
	require.Equal(t, http.StatusOK, runs.Code)
	var records []map[string]any
	require.NoError(t, json.NewDecoder(runs.Body).Decode(&records))
	require.Len(t, records, 2)
	assert.Equal(t, "max_sharpe", records[0]["objective"])
	assert.Equal(t, "api optimize", records[0]["command"])
}

func TestHandleOptimize_Errors(t *testing.T) {
	srv := newTestServer(t, false)
	base := func(extra map[string]any) map[string]any {
		body := map[string]any{"symbols": []string{"BTC", "ETH", "SOL"}, "prices": samplePrices()}
		for k, v := range extra {
			body[k] = v
		}
		return body
	}

	rec := do(t, srv, http.MethodPost, "/api/optimize", base(map[string]any{"mode": "max-return"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/optimize", base(map[string]any{"mode": "target-return", "target_return": 50.0}))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "optimization failed")

	rec = do(t, srv, http.MethodPost, "/api/optimize", base(map[string]any{
		"mode":   "min-vol",
		"bounds": [][2]float64{{0, 0.2}, {0, 0.2}, {0, 0.2}},
	}))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "bounds that cannot reach 1")

	rec = do(t, srv, http.MethodPost, "/api/optimize", base(nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "mode is required")

	metrics := do(t, srv, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, metrics.Code)
	body := metrics.Body.String()
	assert.Contains(t, body, `crypto_risk_optimizations_total{objective="target_return",outcome="failed"} 1`)
	assert.Contains(t, body, `crypto_risk_optimizations_total{objective="min_variance",outcome="invalid"} 1`)
	assert.Contains(t, body, `crypto_risk_http_requests_total{method="POST",route="POST /api/optimize",status_code="400"} 3`)
}

func TestHandleFrontier(t *testing.T) {
	srv := newTestServer(t, false)
	rec := do(t, srv, http.MethodPost, "/api/frontier", map[string]any{
		"symbols":    []string{"BTC", "ETH", "SOL"},
		"prices":     samplePrices(),
		"num_points": 5,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out frontierResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.Equal(t, 5, out.Requested)
	require.NotEmpty(t, out.Points)
	assert.LessOrEqual(t, len(out.Points), 5)
	for i := 1; i < len(out.Points); i++ {
		assert.Greater(t, out.Points[i].TargetReturn, out.Points[i-1].TargetReturn)
	}
	for _, p := range out.Points {
		assert.GreaterOrEqual(t, p.Volatility, 0.0)
	}

	rec = do(t, srv, http.MethodPost, "/api/frontier", map[string]any{
		"symbols":    []string{"BTC", "ETH", "SOL"},
		"prices":     samplePrices(),
		"num_points": 1000,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistory(t *testing.T) {
	t.Run("no database", func(t *testing.T) {
		srv := newTestServer(t, false)
		assert.Equal(t, http.StatusServiceUnavailable, do(t, srv, http.MethodGet, "/api/history", nil).Code)
		assert.Equal(t, http.StatusServiceUnavailable, do(t, srv, http.MethodGet, "/api/history/1", nil).Code)
	})

	srv := newTestServer(t, true)
	id, err := srv.db.InsertRun(db.RunRecord{Command: "analyze", Portfolio: "p", Assets: 2, Volatility: math.NaN()}, nil, nil)
	require.NoError(t, err)

	rec := do(t, srv, http.MethodGet, "/api/history/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeBody(t, rec)
	assert.EqualValues(t, id, out["id"])
	assert.Nil(t, out["volatility"])

	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/api/history/99", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/api/history/abc", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodDelete, "/api/history?older_than_days=x", nil).Code)

	rec = do(t, srv, http.MethodDelete, "/api/history?older_than_days=30", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decodeBody(t, rec)["deleted"])
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusFor(io.ErrUnexpectedEOF))
}
