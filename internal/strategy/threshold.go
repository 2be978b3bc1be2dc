package strategy

import "VolumeSentinel/internal/model"

// Decision is the controller's verdict on a snapshot.
type Decision int

const (
	// DecisionHold means no top-up is due.
	DecisionHold Decision = iota
	// DecisionFire means a top-up should be booked now.
	DecisionFire
	// DecisionSuppressed means the threshold is crossed but this episode
	// already had a successful booking.
	DecisionSuppressed
	// DecisionUnavailable means the threshold is crossed but the portal
	// reports that no top-up can be booked at the moment.
	DecisionUnavailable
)

func (d Decision) String() string {
	switch d {
	case DecisionFire:
		return "fire"
	case DecisionSuppressed:
		return "suppressed"
	case DecisionUnavailable:
		return "unavailable"
	default:
		return "hold"
	}
}

// Controller decides when a top-up is booked, at most once per depletion episode.
type Controller struct {
	ThresholdGB float64
}

// NewController creates a controller for the given threshold.
func NewController(thresholdGB float64) *Controller {
	return &Controller{ThresholdGB: thresholdGB}
}

// Below reports whether the snapshot is under the threshold.
func (c *Controller) Below(snap model.UsageSnapshot) bool {
	return snap.RemainingGB < c.ThresholdGB
}

// ShouldTopUp evaluates a snapshot given whether this episode already triggered.
func (c *Controller) ShouldTopUp(snap model.UsageSnapshot, triggered bool) Decision {
	if !c.Below(snap) {
		return DecisionHold
	}
	if triggered {
		return DecisionSuppressed
	}
	if snap.TopUp == model.TopUpUnavailable {
		return DecisionUnavailable
	}
	return DecisionFire
}

// RecordOutcome returns the episode flag after a booking attempt. A failed
// attempt leaves the flag as it was so a later poll can retry.
func (c *Controller) RecordOutcome(success, triggered bool) bool {
	if success {
		return true
	}
	return triggered
}

// ResetEpisode re-arms the controller after the volume went up.
func (c *Controller) ResetEpisode() bool {
	return false
}
