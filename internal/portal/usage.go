package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"VolumeSentinel/internal/config"
	"VolumeSentinel/internal/model"
)

const refillAction = "refill-highspeed-volume"

// overdrawTolerance absorbs rounding when consumption equals the limit.
const overdrawTolerance = 0.005

type quantity struct {
	Value *float64 `json:"value"`
	Unit  string   `json:"unit"`
}

// flexInt accepts a JSON number or a numeric string.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("parse %q as integer: %w", s, err)
	}
	*f = flexInt(n)
	return nil
}

type refillPackage struct {
	Total quantity `json:"total"`
	Used  quantity `json:"used"`
}

type dataVolume struct {
	DataUpdatedAt    string    `json:"dataUpdatedAt"`
	HighSpeedLimit   *quantity `json:"highSpeedLimit"`
	TotalConsumption *quantity `json:"totalConsumption"`
	ResetDay         flexInt   `json:"resetDay"`
	UnlimitedRefill  *struct {
		Actions              map[string]json.RawMessage `json:"actions"`
		BookedRefillPackages []refillPackage            `json:"bookedRefillPackages"`
	} `json:"unlimitedRefill"`
}

// allowance is the shape of the telephony and messages blocks.
type allowance struct {
	IsFlatRate       bool      `json:"isFlatRate"`
	TotalConsumption *quantity `json:"totalConsumption"`
	ResetDay         flexInt   `json:"resetDay"`
}

// usageResponse covers both payload shapes: the account view nests the
// figures under dataVolume, the guest view has them at the top level.
type usageResponse struct {
	DataVolume *dataVolume     `json:"dataVolume"`
	Telephony  json.RawMessage `json:"telephony"`
	Messages   json.RawMessage `json:"messages"`
	dataVolume
}

// parseAllowance decodes an optional telephony or messages block. A block
// that does not decode is treated as absent so it never fails the reading.
func parseAllowance(raw json.RawMessage) *allowance {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var a allowance
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil
	}
	return &a
}

func (a *allowance) consumed() float64 {
	if a.TotalConsumption == nil || a.TotalConsumption.Value == nil {
		return 0
	}
	return *a.TotalConsumption.Value
}

func usagePath(mode config.AuthMode, contractID string) string {
	p := "/service/mssa/contracts/" + url.PathEscape(contractID) + "/consumption/aggregations"
	if mode == config.AuthGuestLink {
		p += "/data-volume-for-landingpage"
	}
	return p
}

// GetUsage fetches the current data volume of a contract.
func (c *Client) GetUsage(ctx context.Context, s *Session, contractID string) (model.UsageSnapshot, error) {
	if s == nil {
		return model.UsageSnapshot{}, fmt.Errorf("get usage: no session: %w", ErrAuthExpired)
	}
	status, _, body, err := c.get(ctx, s, c.endpoint(usagePath(s.Mode, contractID)), jsonHeaders(c.BaseURL, usagesPagePath))
	if err != nil {
		return model.UsageSnapshot{}, fmt.Errorf("get usage: %w", err)
	}
	if status != http.StatusOK {
		return model.UsageSnapshot{}, statusError("get usage", status)
	}
	snap, err := parseUsage(body, time.Now())
	if err != nil {
		return model.UsageSnapshot{}, fmt.Errorf("get usage: %w", err)
	}
	return snap, nil
}

func parseUsage(body []byte, fetchedAt time.Time) (model.UsageSnapshot, error) {
	var resp usageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return model.UsageSnapshot{}, fmt.Errorf("decode usage: %v: %w", err, ErrMalformedResponse)
	}

	dv := resp.DataVolume
	if dv == nil {
		if resp.HighSpeedLimit == nil {
			return model.UsageSnapshot{}, fmt.Errorf("no data volume in response: %w", ErrMalformedResponse)
		}
		dv = &resp.dataVolume
	}
	if dv.HighSpeedLimit == nil || dv.HighSpeedLimit.Value == nil {
		return model.UsageSnapshot{}, fmt.Errorf("missing high-speed limit: %w", ErrMalformedResponse)
	}
	if dv.TotalConsumption == nil || dv.TotalConsumption.Value == nil {
		return model.UsageSnapshot{}, fmt.Errorf("missing consumption: %w", ErrMalformedResponse)
	}

	total := *dv.HighSpeedLimit.Value
	consumed := *dv.TotalConsumption.Value
	remaining := total - consumed
	if remaining < 0 && remaining > -overdrawTolerance {
		remaining = 0
	}

	snap := model.UsageSnapshot{
		Timestamp:   fetchedAt,
		FetchedAt:   fetchedAt,
		RemainingGB: remaining,
		TotalGB:     total,
		ConsumedGB:  consumed,
		ResetDay:    int(dv.ResetDay),
	}
	if dv.DataUpdatedAt != "" {
		if ts, err := time.Parse(time.RFC3339, dv.DataUpdatedAt); err == nil {
			snap.Timestamp = ts
		}
	}
	if r := dv.UnlimitedRefill; r != nil {
		snap.TopUp = model.TopUpUnavailable
		if _, ok := r.Actions[refillAction]; ok {
			snap.TopUp = model.TopUpAvailable
		}
		snap.RefillPackages = len(r.BookedRefillPackages)
	}
	if a := parseAllowance(resp.Telephony); a != nil {
		snap.Telephony = &model.TelephonyUsage{FlatRate: a.IsFlatRate, Seconds: a.consumed(), ResetDay: int(a.ResetDay)}
	}
	if a := parseAllowance(resp.Messages); a != nil {
		snap.Messages = &model.MessageUsage{FlatRate: a.IsFlatRate, Count: int(a.consumed()), ResetDay: int(a.ResetDay)}
	}

	if err := snap.Validate(); err != nil {
		return model.UsageSnapshot{}, fmt.Errorf("%v: %w", err, ErrMalformedResponse)
	}
	return snap, nil
}
