package model

import (
	"fmt"
	"time"
)

// TopUpAvailability reports whether the portal currently offers a volume top-up.
type TopUpAvailability int

const (
	// TopUpUnknown means the portal response did not say either way.
	TopUpUnknown TopUpAvailability = iota
	TopUpAvailable
	TopUpUnavailable
)

func (a TopUpAvailability) String() string {
	switch a {
	case TopUpAvailable:
		return "available"
	case TopUpUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// UsageSnapshot is one reading of a contract's high-speed data volume.
type UsageSnapshot struct {
	Timestamp      time.Time         `json:"timestamp" yaml:"timestamp"`
	FetchedAt      time.Time         `json:"fetched_at" yaml:"fetched_at"`
	RemainingGB    float64           `json:"remaining_gb" yaml:"remaining_gb"`
	TotalGB        float64           `json:"total_gb" yaml:"total_gb"`
	ConsumedGB     float64           `json:"consumed_gb" yaml:"consumed_gb"`
	ResetDay       int               `json:"reset_day,omitempty" yaml:"reset_day,omitempty"`
	RefillPackages int               `json:"refill_packages,omitempty" yaml:"refill_packages,omitempty"`
	TopUp          TopUpAvailability `json:"topup" yaml:"topup"`
	// Telephony and Messages are only reported by the account view.
	Telephony *TelephonyUsage `json:"telephony,omitempty" yaml:"telephony,omitempty"`
	Messages  *MessageUsage   `json:"messages,omitempty" yaml:"messages,omitempty"`
}

// TelephonyUsage is the call time used in the current billing period.
type TelephonyUsage struct {
	FlatRate bool    `json:"flat_rate" yaml:"flat_rate"`
	Seconds  float64 `json:"seconds" yaml:"seconds"`
	ResetDay int     `json:"reset_day,omitempty" yaml:"reset_day,omitempty"`
}

// Minutes returns the call time in minutes.
func (t TelephonyUsage) Minutes() float64 {
	return t.Seconds / 60
}

// MessageUsage is the number of SMS sent in the current billing period.
type MessageUsage struct {
	FlatRate bool `json:"flat_rate" yaml:"flat_rate"`
	Count    int  `json:"count" yaml:"count"`
	ResetDay int  `json:"reset_day,omitempty" yaml:"reset_day,omitempty"`
}

// Validate enforces 0 <= remaining <= total and non-negative consumption.
func (s UsageSnapshot) Validate() error {
	if s.TotalGB < 0 {
		return fmt.Errorf("total volume %.3f GB is negative", s.TotalGB)
	}
	if s.ConsumedGB < 0 {
		return fmt.Errorf("consumed volume %.3f GB is negative", s.ConsumedGB)
	}
	if s.RemainingGB < 0 || s.RemainingGB > s.TotalGB {
		return fmt.Errorf("remaining volume %.3f GB outside [0, %.3f]", s.RemainingGB, s.TotalGB)
	}
	return nil
}

// ConsumptionRate is the observed drain between two consecutive snapshots.
type ConsumptionRate struct {
	GBPerSecond float64
	// EpisodeReset is set when the remaining volume went up, which starts a
	// new depletion episode.
	EpisodeReset bool
}

// TopUpResult is the outcome of a booking attempt.
type TopUpResult struct {
	Success bool      `json:"success" yaml:"success"`
	Message string    `json:"message" yaml:"message"`
	At      time.Time `json:"at" yaml:"at"`
}
