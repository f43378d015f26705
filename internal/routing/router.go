// Package routing turns a validated order plus the current broker health
// picture into an allocation plan: one broker for small orders, a greedy
// proportional split for large ones.
package routing

import (
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"smartroute/internal/broker"
	"smartroute/internal/config"
	"smartroute/internal/connection"
)

var ErrNoViableBroker = errors.New("no viable broker")

type Router struct {
	mu             sync.RWMutex
	weights        config.Weights
	healthFloor    float64
	splitThreshold float64
	maxLegs        int
	lotSize        float64
}

func NewRouter(cfg config.RoutingConfig, lotSize float64) *Router {
	if lotSize <= 0 {
		lotSize = 1
	}
	return &Router{
		weights: config.Weights{
			Speed:     cfg.WeightSpeed,
			Cost:      cfg.WeightCost,
			Liquidity: cfg.WeightLiquidity,
			Health:    cfg.WeightHealth,
		},
		healthFloor:    cfg.HealthFloor,
		splitThreshold: cfg.SplitThresholdUSD,
		maxLegs:        cfg.MaxLegs,
		lotSize:        lotSize,
	}
}

// SetWeights swaps the scoring weights; wired to the config hot-reloader.
func (r *Router) SetWeights(w config.Weights) {
	r.mu.Lock()
	r.weights = w
	r.mu.Unlock()
}

type scoredBroker struct {
	snap  connection.Snapshot
	score float64
}

// Route builds a plan for the requested quantity over the given candidates.
// markPrice prices market orders for the split-threshold decision.
// Determinism: equal scores tie-break on lower observed latency, then on
// lexicographic broker id.
func (r *Router) Route(req broker.OrderRequest, markPrice float64, candidates []connection.Snapshot) (Plan, error) {
	r.mu.RLock()
	weights := r.weights
	floor := r.healthFloor
	threshold := r.splitThreshold
	maxLegs := r.maxLegs
	lot := r.lotSize
	r.mu.RUnlock()

	scored := r.scoreCandidates(req, weights, floor, candidates)
	if len(scored) == 0 {
		return Plan{}, ErrNoViableBroker
	}

	plan := Plan{
		PlanID:    uuid.NewString(),
		Version:   1,
		CreatedAt: time.Now(),
	}

	value := req.ValueAt(markPrice)
	if value > 0 && value <= threshold {
		plan.Strategy = StrategySingle
		plan.Legs = []Allocation{{BrokerID: scored[0].snap.BrokerID, Quantity: req.Quantity, Rank: 1}}
	} else {
		plan.Strategy = StrategySplit
		plan.Legs = r.splitAllocate(req.Quantity, lot, maxLegs, scored)
		if len(plan.Legs) == 1 {
			plan.Strategy = StrategySingle
		}
	}

	plan.EstimatedCost = estimateCost(plan.Legs, markPrice, scored)
	plan.EstimatedTimeMs = estimateTime(plan.Legs, scored)
	return plan, nil
}

func (r *Router) scoreCandidates(req broker.OrderRequest, w config.Weights, floor float64, candidates []connection.Snapshot) []scoredBroker {
	eligible := make([]connection.Snapshot, 0, len(candidates))
	for _, c := range candidates {
		if !c.Routable() && c.State != connection.StateConnecting {
			continue
		}
		if c.HealthScore < floor {
			continue
		}
		if !c.Capabilities.Supports(req.Symbol) {
			continue
		}
		eligible = append(eligible, c)
	}
	if len(eligible) == 0 {
		return nil
	}

	minLat, maxLat := math.MaxFloat64, 0.0
	minFee, maxFee := math.MaxFloat64, 0.0
	for _, c := range eligible {
		minLat = math.Min(minLat, c.AvgLatencyMs)
		maxLat = math.Max(maxLat, c.AvgLatencyMs)
		minFee = math.Min(minFee, c.Capabilities.FeeRate)
		maxFee = math.Max(maxFee, c.Capabilities.FeeRate)
	}

	scored := make([]scoredBroker, 0, len(eligible))
	for _, c := range eligible {
		speed := 1.0
		if maxLat > minLat {
			speed = (maxLat - c.AvgLatencyMs) / (maxLat - minLat)
		}
		normCost := 0.0
		if maxFee > minFee {
			normCost = (c.Capabilities.FeeRate - minFee) / (maxFee - minFee)
		}
		liquidityFit := 1.0
		if c.Capabilities.LiquidityUnits > 0 && req.Quantity > 0 {
			liquidityFit = math.Min(1, c.Capabilities.LiquidityUnits/req.Quantity)
		}
		score := w.Speed*speed + w.Cost*(1-normCost) + w.Liquidity*liquidityFit + w.Health*c.HealthScore
		scored = append(scored, scoredBroker{snap: c, score: score})
	}

	sort.Slice(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.snap.AvgLatencyMs != b.snap.AvgLatencyMs {
			return a.snap.AvgLatencyMs < b.snap.AvgLatencyMs
		}
		return a.snap.BrokerID < b.snap.BrokerID
	})
	return scored
}

// splitAllocate distributes quantity greedily by descending score, capping
// each leg at the broker's estimated available liquidity. The caps are soft:
// any remainder after every candidate is exhausted lands on the top broker.
// All quantities stay multiples of the lot size.
func (r *Router) splitAllocate(quantity, lot float64, maxLegs int, scored []scoredBroker) []Allocation {
	totalUnits := int64(math.Round(quantity / lot))
	remaining := totalUnits

	var legs []Allocation
	for _, sb := range scored {
		if remaining <= 0 || len(legs) >= maxLegs {
			break
		}
		units := remaining
		if liq := sb.snap.Capabilities.LiquidityUnits; liq > 0 {
			capUnits := int64(math.Floor(liq / lot))
			if capUnits < units {
				units = capUnits
			}
		}
		if units <= 0 {
			continue
		}
		legs = append(legs, Allocation{
			BrokerID: sb.snap.BrokerID,
			Quantity: float64(units) * lot,
			Rank:     len(legs) + 1,
		})
		remaining -= units
	}

	if len(legs) == 0 {
		// Every cap rounded to zero; the top broker takes it all.
		return []Allocation{{BrokerID: scored[0].snap.BrokerID, Quantity: quantity, Rank: 1}}
	}
	if remaining > 0 {
		legs[0].Quantity += float64(remaining) * lot
	}
	return legs
}

func estimateCost(legs []Allocation, markPrice float64, scored []scoredBroker) float64 {
	if markPrice <= 0 {
		return 0
	}
	fees := make(map[string]float64, len(scored))
	for _, sb := range scored {
		fees[sb.snap.BrokerID] = sb.snap.Capabilities.FeeRate
	}
	var cost float64
	for _, leg := range legs {
		cost += leg.Quantity * markPrice * fees[leg.BrokerID]
	}
	return cost
}

func estimateTime(legs []Allocation, scored []scoredBroker) float64 {
	lat := make(map[string]float64, len(scored))
	for _, sb := range scored {
		lat[sb.snap.BrokerID] = sb.snap.AvgLatencyMs
	}
	var worst float64
	for _, leg := range legs {
		worst = math.Max(worst, lat[leg.BrokerID])
	}
	return worst
}
