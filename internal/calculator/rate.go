package calculator

import (
	"time"

	"VolumeSentinel/internal/model"
)

// RateEpsilon is the smallest time delta used as a divisor.
const RateEpsilon = time.Millisecond

// EstimateRate derives the consumption rate between two consecutive snapshots.
// A nil previous snapshot yields a zero rate. An increase in remaining volume
// yields a zero rate with EpisodeReset set.
func EstimateRate(prev *model.UsageSnapshot, cur model.UsageSnapshot) model.ConsumptionRate {
	if prev == nil {
		return model.ConsumptionRate{}
	}
	if cur.RemainingGB > prev.RemainingGB {
		return model.ConsumptionRate{EpisodeReset: true}
	}

	dt := cur.Timestamp.Sub(prev.Timestamp)
	if dt < RateEpsilon {
		dt = RateEpsilon
	}
	rate := (prev.RemainingGB - cur.RemainingGB) / dt.Seconds()
	if rate < 0 {
		rate = 0
	}
	return model.ConsumptionRate{GBPerSecond: rate}
}
