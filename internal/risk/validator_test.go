package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartroute/internal/broker"
	"smartroute/internal/config"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxOrderValueUSD:     100_000,
		ConcentrationLimit:   0.25,
		ConcentrationWarning: 0.15,
		DefaultLotSize:       1,
		DefaultTickSize:      0.01,
		SkipSessionCheck:     true,
	}
}

func testAccount() AccountState {
	return AccountState{
		CashAvailable:    50_000,
		SettledCash:      30_000,
		TotalEquity:      200_000,
		ExposureBySymbol: map[string]float64{},
		MarkPrices:       map[string]float64{"AAPL": 100},
	}
}

func buy(qty float64) broker.OrderRequest {
	return broker.OrderRequest{
		ClientOrderID: "c1",
		Symbol:        "AAPL",
		Side:          broker.SideBuy,
		Quantity:      qty,
		OrderType:     broker.OrderTypeMarket,
	}
}

func TestValidateCleanOrderPasses(t *testing.T) {
	v := NewValidator(testRiskConfig())

	res := v.Validate(buy(100), testAccount())

	assert.Empty(t, res.Errors())
	assert.True(t, res.Passed(false))
}

func TestValidateInsufficientCash(t *testing.T) {
	v := NewValidator(testRiskConfig())

	// 600 * $100 = $60,000 > $50,000 cash.
	res := v.Validate(buy(600), testAccount())

	require.NotEmpty(t, res.Errors())
	assert.False(t, res.Passed(true))
	assert.Equal(t, CategoryFunds, res.Errors()[0].Category)
}

func TestValidateMaxOrderValue(t *testing.T) {
	cfg := testRiskConfig()
	cfg.MaxOrderValueUSD = 5_000
	v := NewValidator(cfg)

	res := v.Validate(buy(100), testAccount())

	assert.False(t, res.Passed(true), "hard limits cannot be acknowledged away")
}

func TestValidateSellNeedsNoCash(t *testing.T) {
	v := NewValidator(testRiskConfig())
	req := buy(600)
	req.Side = broker.SideSell

	res := v.Validate(req, testAccount())
	assert.True(t, res.Passed(false))
}

func TestValidateConcentrationError(t *testing.T) {
	v := NewValidator(testRiskConfig())
	acct := testAccount()
	acct.ExposureBySymbol["AAPL"] = 45_000

	// (45,000 + 30,000) / 200,000 = 0.375 > 0.25.
	res := v.Validate(buy(300), acct)

	require.NotEmpty(t, res.Errors())
	assert.Equal(t, CategoryConcentration, res.Errors()[0].Category)
}

func TestValidateConcentrationWarningAcknowledgeable(t *testing.T) {
	v := NewValidator(testRiskConfig())
	acct := testAccount()
	acct.ExposureBySymbol["AAPL"] = 20_000

	// (20,000 + 15,000) / 200,000 = 0.175: between warning and limit.
	res := v.Validate(buy(150), acct)

	assert.Empty(t, res.Errors())
	require.NotEmpty(t, res.Warnings())
	assert.False(t, res.Passed(false))
	assert.True(t, res.Passed(true), "acknowledged warnings do not block")
}

func TestValidateSettledFundsRule(t *testing.T) {
	cfg := testRiskConfig()
	cfg.RequireSettledFunds = true
	v := NewValidator(cfg)

	// $40,000 is under available cash but over the $30,000 settled.
	res := v.Validate(buy(400), testAccount())

	require.NotEmpty(t, res.Errors())
	assert.Equal(t, CategoryRegulatory, res.Errors()[0].Category)
}

func TestValidateLotAndTick(t *testing.T) {
	cfg := testRiskConfig()
	cfg.DefaultLotSize = 10
	v := NewValidator(cfg)

	res := v.Validate(buy(105), testAccount())
	require.NotEmpty(t, res.Errors())
	assert.Equal(t, CategoryTechnical, res.Errors()[0].Category)

	limit := buy(100)
	limit.OrderType = broker.OrderTypeLimit
	limit.LimitPrice = 100.005
	res = v.Validate(limit, testAccount())
	assert.NotEmpty(t, res.Errors())
}

func TestValidateUnpriceableOrder(t *testing.T) {
	v := NewValidator(testRiskConfig())
	req := buy(100)
	req.Symbol = "ZZZZ" // no mark price

	res := v.Validate(req, testAccount())

	require.NotEmpty(t, res.Errors())
	assert.Equal(t, CategoryTechnical, res.Errors()[0].Category)
}

func TestValidateSessionWindow(t *testing.T) {
	cfg := testRiskConfig()
	cfg.SkipSessionCheck = false
	cfg.SessionOpenMinute = 13*60 + 30 // 13:30 UTC
	cfg.SessionCloseMinute = 20 * 60   // 20:00 UTC
	v := NewValidator(cfg)
	v.now = func() time.Time { return time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC) }

	res := v.Validate(buy(100), testAccount())
	require.NotEmpty(t, res.Errors())
	assert.Equal(t, CategoryMarketState, res.Errors()[0].Category)

	v.now = func() time.Time { return time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC) }
	res = v.Validate(buy(100), testAccount())
	assert.True(t, res.Passed(false))
}
