// Package portfolio loads holdings files and values them at market prices.
package portfolio

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"crypto-risk/internal/engine"
)

var (
	// ErrMissingPrice is returned when valuing an asset that has no price.
	ErrMissingPrice = errors.New("price is missing")
	// ErrInvalidPortfolio wraps every structural problem found while loading.
	ErrInvalidPortfolio = errors.New("invalid portfolio")
)

// Asset is one holding. Price is unset until market data is attached.
type Asset struct {
	Symbol   string           `json:"symbol" validate:"required,max=20"`
	Amount   decimal.Decimal  `json:"amount" validate:"gt=0"`
	CryptoID string           `json:"crypto_id" validate:"required"`
	Price    *decimal.Decimal `json:"-"`
}

// MarketValue is amount × price.
func (a Asset) MarketValue() (decimal.Decimal, error) {
	if a.Price == nil {
		return decimal.Zero, fmt.Errorf("%s: %w", a.Symbol, ErrMissingPrice)
	}
	return a.Amount.Mul(*a.Price), nil
}

// Portfolio is a named list of holdings. A symbol may appear more than once.
type Portfolio struct {
	Name   string  `json:"name"`
	Assets []Asset `json:"assets" validate:"required,min=1,dive"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// validate decimals as plain numbers
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// Load reads and validates a portfolio JSON file.
func Load(path string) (*Portfolio, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("portfolio file not found: %s", path)
		}
		return nil, fmt.Errorf("stat portfolio: %w", err)
	}
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".json" {
		return nil, fmt.Errorf("%w: file format %q, only .json files supported", ErrInvalidPortfolio, ext)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read portfolio: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates portfolio JSON. Name defaults to "portfolio".
func Parse(data []byte) (*Portfolio, error) {
	var p Portfolio
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrInvalidPortfolio, err)
	}
	if p.Name == "" {
		p.Name = "portfolio"
	}
	for i := range p.Assets {
		p.Assets[i].Symbol = strings.ToUpper(strings.TrimSpace(p.Assets[i].Symbol))
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks every holding.
func (p *Portfolio) Validate() error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidPortfolio, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			if fe.Field() == "Assets" {
				msgs = append(msgs, "the portfolio must contain at least one asset")
			} else {
				msgs = append(msgs, fmt.Sprintf("%s is required", fe.Namespace()))
			}
		case "min":
			msgs = append(msgs, "the portfolio must contain at least one asset")
		case "gt":
			msgs = append(msgs, fmt.Sprintf("%s must be positive", fe.Namespace()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidPortfolio, strings.Join(msgs, "; "))
}

// Symbols returns the distinct symbols in file order.
func (p *Portfolio) Symbols() []string {
	seen := make(map[string]bool, len(p.Assets))
	out := make([]string, 0, len(p.Assets))
	for _, a := range p.Assets {
		if !seen[a.Symbol] {
			seen[a.Symbol] = true
			out = append(out, a.Symbol)
		}
	}
	return out
}

// SetPrices attaches a price to every holding. Every symbol must be priced.
func (p *Portfolio) SetPrices(prices map[string]float64) error {
	for i := range p.Assets {
		v, ok := prices[p.Assets[i].Symbol]
		if !ok {
			return fmt.Errorf("%s: %w", p.Assets[i].Symbol, ErrMissingPrice)
		}
		d := decimal.NewFromFloat(v)
		p.Assets[i].Price = &d
	}
	return nil
}

// TotalValue sums the market value of every holding.
func (p *Portfolio) TotalValue() (decimal.Decimal, error) {
	total := decimal.Zero
	for _, a := range p.Assets {
		v, err := a.MarketValue()
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(v)
	}
	return total, nil
}

// Values returns the market value per symbol, duplicates summed.
func (p *Portfolio) Values() (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(p.Assets))
	for _, a := range p.Assets {
		v, err := a.MarketValue()
		if err != nil {
			return nil, err
		}
		out[a.Symbol] = out[a.Symbol].Add(v)
	}
	return out, nil
}

// Weights returns each symbol's share of the total value. When the total is
// not positive every weight is zero.
func (p *Portfolio) Weights() (engine.Weights, error) {
	values, err := p.Values()
	if err != nil {
		return nil, err
	}
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	w := make(engine.Weights, len(values))
	for sym, v := range values {
		if !total.IsPositive() {
			w[engine.Symbol(sym)] = 0
			continue
		}
		w[engine.Symbol(sym)] = v.Div(total).InexactFloat64()
	}
	return w, nil
}

// ValidatePortfolioData inspects raw decoded JSON and lists human-readable
// problems without building a Portfolio. An empty result means the
// structure is usable.
func ValidatePortfolioData(data map[string]any) []string {
	var problems []string
	if _, ok := data["name"]; !ok {
		problems = append(problems, "'name' field is missing (optional but recommended)")
	}
	raw, ok := data["assets"]
	if !ok {
		return append(problems, "'assets' field is missing (required)")
	}
	assets, ok := raw.([]any)
	if !ok {
		return append(problems, "'assets' field must be a list")
	}
	if len(assets) == 0 {
		problems = append(problems, "the portfolio must contain at least one asset")
	}
	for i, item := range assets {
		obj, ok := item.(map[string]any)
		if !ok {
			problems = append(problems, fmt.Sprintf("asset #%d: must be a JSON object", i))
			continue
		}
		for _, field := range []string{"symbol", "amount", "crypto_id"} {
			if _, ok := obj[field]; !ok {
				problems = append(problems, fmt.Sprintf("asset #%d: missing field '%s'", i, field))
			}
		}
	}
	return problems
}
