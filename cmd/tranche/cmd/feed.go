package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rustyeddy/tranche/broker/sim"
)

// paperFeed is the file the external ranking process rewrites before each
// execution window. The engine re-reads it every cycle; a stale or missing
// file leaves the cycle without targets, which the engine treats as a
// liquidation signal for the active tranche.
type paperFeed struct {
	NAV     float64            `json:"nav"`
	Prices  map[string]float64 `json:"prices"`
	Weights map[string]float64 `json:"weights"`
}

// fileTargets feeds a simulated venue from a JSON file. It is the paper
// trading boundary: NAV and prices are pushed into the venue, the weight
// map is handed to the engine as the cycle target.
type fileTargets struct {
	path  string
	venue *sim.Venue
}

func newFileTargets(path string, venue *sim.Venue) *fileTargets {
	return &fileTargets{path: path, venue: venue}
}

func (f *fileTargets) Targets(ctx context.Context, now time.Time) (map[string]float64, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read feed file: %w", err)
	}
	var feed paperFeed
	if err := json.Unmarshal(data, &feed); err != nil {
		return nil, fmt.Errorf("parse feed file: %w", err)
	}
	if feed.NAV <= 0 {
		return nil, fmt.Errorf("feed file: nav must be positive")
	}

	f.venue.SetNAV(feed.NAV)
	for sym, px := range feed.Prices {
		if px <= 0 {
			return nil, fmt.Errorf("feed file: price for %s must be positive", sym)
		}
		f.venue.SetPrice(sym, px)
	}
	return feed.Weights, nil
}
