// Package risk implements the cross-day circuit breaker that gates every
// trading cycle.
//
// Within a day the controller is ARMED until intraday drawdown from the
// day's opening NAV crosses the configured threshold, which trips it for
// the remainder of that day regardless of any later recovery. Day rollover
// re-arms it; consecutive tripped days escalate, and at the configured
// limit the controller hard-halts until an operator explicitly clears it.
package risk

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the controller's gate state.
type Status string

const (
	Armed   Status = "ARMED"
	Tripped Status = "TRIPPED"
	Halted  Status = "HALTED"
)

func validStatus(s Status) bool {
	return s == Armed || s == Tripped || s == Halted
}

// State is the persisted risk state. It lives in its own file under the
// same atomic-commit discipline as the ledger snapshot.
type State struct {
	OpeningNAV    float64
	Status        Status
	TrippedStreak int
	TrippedDates  []string // trading-calendar dates, "2006-01-02"
	Day           string   // trading-calendar date the state belongs to
	UpdatedAt     time.Time
}

type wireState struct {
	OpeningNAV    *float64 `json:"opening_nav"`
	Status        *string  `json:"status"`
	TrippedStreak *int     `json:"tripped_streak"`
	TrippedDates  []string `json:"tripped_dates"`
	Day           *string  `json:"day"`
	UpdatedAt     *string  `json:"updated_at"`
}

// Encode serializes the state as indented JSON.
func (s State) Encode() ([]byte, error) {
	status := string(s.Status)
	updated := s.UpdatedAt.Format(time.RFC3339Nano)
	dates := s.TrippedDates
	if dates == nil {
		dates = []string{}
	}
	w := wireState{
		OpeningNAV:    &s.OpeningNAV,
		Status:        &status,
		TrippedStreak: &s.TrippedStreak,
		TrippedDates:  dates,
		Day:           &s.Day,
		UpdatedAt:     &updated,
	}
	return json.MarshalIndent(&w, "", "  ")
}

// DecodeState parses and strictly validates serialized risk state. Missing
// or malformed fields fail loudly; guard-relevant state is never coerced to
// a default.
func DecodeState(data []byte) (*State, error) {
	var w wireState
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode risk state: %w", err)
	}
	if w.OpeningNAV == nil {
		return nil, fmt.Errorf("risk state schema: opening_nav missing")
	}
	if w.Status == nil {
		return nil, fmt.Errorf("risk state schema: status missing")
	}
	st := Status(*w.Status)
	if !validStatus(st) {
		return nil, fmt.Errorf("risk state schema: unknown status %q", *w.Status)
	}
	if w.TrippedStreak == nil || *w.TrippedStreak < 0 {
		return nil, fmt.Errorf("risk state schema: tripped_streak missing or negative")
	}
	if w.Day == nil {
		return nil, fmt.Errorf("risk state schema: day missing")
	}
	if *w.Day != "" {
		if _, err := time.Parse("2006-01-02", *w.Day); err != nil {
			return nil, fmt.Errorf("risk state schema: day: %w", err)
		}
	}
	if w.UpdatedAt == nil {
		return nil, fmt.Errorf("risk state schema: updated_at missing")
	}
	updated, err := time.Parse(time.RFC3339Nano, *w.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("risk state schema: updated_at: %w", err)
	}
	return &State{
		OpeningNAV:    *w.OpeningNAV,
		Status:        st,
		TrippedStreak: *w.TrippedStreak,
		TrippedDates:  w.TrippedDates,
		Day:           *w.Day,
		UpdatedAt:     updated,
	}, nil
}
