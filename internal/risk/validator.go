// Package risk gates routing attempts with stateless per-call checks. The
// validator is a pure function of the order and an account snapshot; it is
// re-run whenever a routing plan is recomputed after a failover.
package risk

import (
	"fmt"
	"math"
	"time"

	"smartroute/internal/broker"
	"smartroute/internal/config"
)

type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
	SeverityInfo    Severity = "INFO"
)

type Category string

const (
	CategoryFunds         Category = "funds"
	CategoryConcentration Category = "concentration"
	CategoryRegulatory    Category = "regulatory"
	CategoryMarketState   Category = "market_state"
	CategoryTechnical     Category = "technical"
)

type Finding struct {
	Severity Severity `json:"severity"`
	Category Category `json:"category"`
	Message  string   `json:"message"`
}

type Result struct {
	Findings []Finding `json:"findings"`
}

func (r *Result) add(sev Severity, cat Category, format string, args ...any) {
	r.Findings = append(r.Findings, Finding{Severity: sev, Category: cat, Message: fmt.Sprintf(format, args...)})
}

func (r Result) Errors() []Finding   { return r.bySeverity(SeverityError) }
func (r Result) Warnings() []Finding { return r.bySeverity(SeverityWarning) }

func (r Result) bySeverity(sev Severity) []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Severity == sev {
			out = append(out, f)
		}
	}
	return out
}

// Passed reports whether routing may proceed. Errors always block;
// warnings block unless the caller acknowledged them.
func (r Result) Passed(warningsAcknowledged bool) bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			return false
		}
		if f.Severity == SeverityWarning && !warningsAcknowledged {
			return false
		}
	}
	return true
}

// AccountState is the aggregated snapshot the checks run against.
type AccountState struct {
	CashAvailable float64
	SettledCash   float64
	TotalEquity   float64
	// ExposureBySymbol is the current absolute notional exposure per symbol
	// across all brokers.
	ExposureBySymbol map[string]float64
	// MarkPrices provides reference prices for market orders.
	MarkPrices map[string]float64
}

func (a AccountState) markPrice(symbol string) float64 {
	if a.MarkPrices == nil {
		return 0
	}
	return a.MarkPrices[symbol]
}

type Validator struct {
	cfg config.RiskConfig
	now func() time.Time
}

func NewValidator(cfg config.RiskConfig) *Validator {
	return &Validator{cfg: cfg, now: time.Now}
}

// Validate runs every check category and returns all findings. It never
// mutates its inputs and has no side effects.
func (v *Validator) Validate(req broker.OrderRequest, acct AccountState) Result {
	var res Result

	value := req.ValueAt(acct.markPrice(req.Symbol))
	if value <= 0 {
		res.add(SeverityError, CategoryTechnical, "cannot price order for %s: no limit price or mark price", req.Symbol)
		return res
	}

	v.checkFunds(req, acct, value, &res)
	v.checkConcentration(req, acct, value, &res)
	v.checkRegulatory(req, acct, &res)
	v.checkSession(&res)
	v.checkTechnical(req, &res)
	return res
}

func (v *Validator) checkFunds(req broker.OrderRequest, acct AccountState, value float64, res *Result) {
	if value > v.cfg.MaxOrderValueUSD {
		res.add(SeverityError, CategoryFunds, "order value %.2f exceeds max_order_value_usd %.2f", value, v.cfg.MaxOrderValueUSD)
	}
	if req.Side == broker.SideBuy && value > acct.CashAvailable {
		res.add(SeverityError, CategoryFunds, "order value %.2f exceeds available cash %.2f", value, acct.CashAvailable)
	}
	if v.cfg.WarnOrderValueUSD > 0 && value > v.cfg.WarnOrderValueUSD {
		res.add(SeverityWarning, CategoryFunds, "order value %.2f above warning threshold %.2f", value, v.cfg.WarnOrderValueUSD)
	}
}

func (v *Validator) checkConcentration(req broker.OrderRequest, acct AccountState, value float64, res *Result) {
	if acct.TotalEquity <= 0 {
		return
	}
	exposure := math.Abs(acct.ExposureBySymbol[req.Symbol])
	if req.Side == broker.SideBuy {
		exposure += value
	}
	ratio := exposure / acct.TotalEquity
	if ratio > v.cfg.ConcentrationLimit {
		res.add(SeverityError, CategoryConcentration, "symbol %s exposure ratio %.2f exceeds limit %.2f", req.Symbol, ratio, v.cfg.ConcentrationLimit)
	} else if ratio > v.cfg.ConcentrationWarning {
		res.add(SeverityWarning, CategoryConcentration, "symbol %s exposure ratio %.2f above warning level %.2f", req.Symbol, ratio, v.cfg.ConcentrationWarning)
	}
}

func (v *Validator) checkRegulatory(req broker.OrderRequest, acct AccountState, res *Result) {
	if !v.cfg.RequireSettledFunds || req.Side != broker.SideBuy {
		return
	}
	value := req.ValueAt(acct.markPrice(req.Symbol))
	if value > acct.SettledCash {
		res.add(SeverityError, CategoryRegulatory, "order value %.2f exceeds settled funds %.2f (settlement-cycle rule)", value, acct.SettledCash)
	}
}

func (v *Validator) checkSession(res *Result) {
	if v.cfg.SkipSessionCheck {
		return
	}
	now := v.now().UTC()
	minute := now.Hour()*60 + now.Minute()
	if minute < v.cfg.SessionOpenMinute || minute >= v.cfg.SessionCloseMinute {
		res.add(SeverityError, CategoryMarketState, "outside trading session window (%02d:%02d-%02d:%02d UTC)",
			v.cfg.SessionOpenMinute/60, v.cfg.SessionOpenMinute%60,
			v.cfg.SessionCloseMinute/60, v.cfg.SessionCloseMinute%60)
	}
}

func (v *Validator) checkTechnical(req broker.OrderRequest, res *Result) {
	lot := v.cfg.DefaultLotSize
	if lot > 0 && remainder(req.Quantity, lot) {
		res.add(SeverityError, CategoryTechnical, "quantity %.4f not a multiple of lot size %.4f", req.Quantity, lot)
	}
	tick := v.cfg.DefaultTickSize
	if tick > 0 && req.OrderType == broker.OrderTypeLimit && remainder(req.LimitPrice, tick) {
		res.add(SeverityError, CategoryTechnical, "limit price %.4f not aligned to tick size %.4f", req.LimitPrice, tick)
	}
	if req.Quantity <= 0 {
		res.add(SeverityError, CategoryTechnical, "quantity must be positive")
	}
}

func remainder(value, step float64) bool {
	if step <= 0 {
		return false
	}
	ratio := value / step
	return math.Abs(ratio-math.Round(ratio)) > 1e-9
}
