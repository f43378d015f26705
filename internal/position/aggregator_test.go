package position

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartroute/internal/broker"
)

func fill(brokerID string, side broker.Side, qty, price float64) Fill {
	return Fill{BrokerID: brokerID, Symbol: "AAPL", Side: side, Quantity: qty, Price: price}
}

func TestApplyFillWeightedAverage(t *testing.T) {
	a := NewAggregator()

	a.ApplyFill(fill("alpha", broker.SideBuy, 100, 10))
	pos := a.ApplyFill(fill("alpha", broker.SideBuy, 100, 20))

	assert.Equal(t, 200.0, pos.Quantity)
	assert.Equal(t, 15.0, pos.AvgPrice)
	assert.Equal(t, 0.0, pos.RealizedPnL)
}

func TestApplyFillRealizesPnL(t *testing.T) {
	a := NewAggregator()

	a.ApplyFill(fill("alpha", broker.SideBuy, 100, 10))
	pos := a.ApplyFill(fill("alpha", broker.SideSell, 40, 14))

	assert.Equal(t, 60.0, pos.Quantity)
	assert.Equal(t, 10.0, pos.AvgPrice, "closing does not move the open average")
	assert.Equal(t, 160.0, pos.RealizedPnL) // 40 * (14 - 10)
}

func TestApplyFillFlattens(t *testing.T) {
	a := NewAggregator()

	a.ApplyFill(fill("alpha", broker.SideBuy, 100, 10))
	pos := a.ApplyFill(fill("alpha", broker.SideSell, 100, 12))

	assert.Equal(t, 0.0, pos.Quantity)
	assert.Equal(t, 0.0, pos.AvgPrice)
	assert.Equal(t, 200.0, pos.RealizedPnL)
}

func TestApplyFillCrossesThroughFlat(t *testing.T) {
	a := NewAggregator()

	a.ApplyFill(fill("alpha", broker.SideBuy, 100, 10))
	pos := a.ApplyFill(fill("alpha", broker.SideSell, 150, 12))

	assert.Equal(t, -50.0, pos.Quantity)
	assert.Equal(t, 12.0, pos.AvgPrice, "the short remainder opens at the fill price")
	assert.Equal(t, 200.0, pos.RealizedPnL, "only the closed 100 realizes")
}

func TestApplyFillShortSide(t *testing.T) {
	a := NewAggregator()

	a.ApplyFill(fill("alpha", broker.SideSell, 100, 20))
	pos := a.ApplyFill(fill("alpha", broker.SideBuy, 60, 15))

	assert.Equal(t, -40.0, pos.Quantity)
	assert.Equal(t, 300.0, pos.RealizedPnL) // 60 * (20 - 15)
}

func TestPositionsPerBrokerAreIndependent(t *testing.T) {
	a := NewAggregator()

	a.ApplyFill(fill("alpha", broker.SideBuy, 100, 10))
	a.ApplyFill(fill("beta", broker.SideBuy, 50, 12))

	positions := a.PositionsFor("AAPL")
	require.Len(t, positions, 2)
	assert.Equal(t, "alpha", positions[0].BrokerID)
	assert.Equal(t, 100.0, positions[0].Quantity)
	assert.Equal(t, "beta", positions[1].BrokerID)
	assert.Equal(t, 50.0, positions[1].Quantity)
}

func TestConsolidatedWeightedAverage(t *testing.T) {
	a := NewAggregator()

	a.ApplyFill(fill("alpha", broker.SideBuy, 100, 10))
	a.ApplyFill(fill("beta", broker.SideBuy, 300, 20))

	c := a.Consolidated("AAPL")
	assert.Equal(t, 400.0, c.Quantity)
	assert.Equal(t, 17.5, c.WeightedAvgPrice) // (100*10 + 300*20) / 400
}

func TestReplayRebuildsDeterministically(t *testing.T) {
	fills := []Fill{
		fill("alpha", broker.SideBuy, 100, 10),
		fill("alpha", broker.SideSell, 40, 14),
		fill("beta", broker.SideBuy, 50, 12),
	}

	a := NewAggregator()
	for _, f := range fills {
		a.ApplyFill(f)
	}
	want := a.All()

	a.ApplyFill(fill("alpha", broker.SideBuy, 999, 1)) // noise the replay must erase
	a.Replay(fills)

	assert.Equal(t, want, a.All())
}
