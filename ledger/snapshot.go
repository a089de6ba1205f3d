package ledger

import (
	"encoding/json"
	"fmt"
	"time"
)

// Snapshot is the immutable unit of persistence: every tranche plus the
// monotonically increasing cycle counter and the commit timestamp.
type Snapshot struct {
	DaysCount   int64
	CommittedAt time.Time
	Initialized bool
	Tranches    []TrancheSnapshot
}

// TrancheSnapshot mirrors one tranche.
type TrancheSnapshot struct {
	ID                  int
	Cash                float64
	Holdings            map[string]float64
	Records             map[string]RecordSnapshot
	TotalValue          float64
	GuardTriggeredToday bool
	GuardFired          map[string]string
}

// RecordSnapshot mirrors one position record. EntryAt keeps its timezone
// through serialization; see the round-trip invariant on Restore.
type RecordSnapshot struct {
	Shares     float64
	EntryPrice float64
	HighPrice  float64
	EntryAt    time.Time
}

// Wire types use pointers so a missing field is distinguishable from a zero
// value. Decoding never substitutes a default for a required field.

type wireSnapshot struct {
	DaysCount   *int64         `json:"days_count"`
	CommittedAt *string        `json:"committed_at"`
	Initialized *bool          `json:"initialized"`
	Tranches    []*wireTranche `json:"tranches"`
}

type wireTranche struct {
	ID                  *int                   `json:"id"`
	Cash                *float64               `json:"cash"`
	Holdings            map[string]float64     `json:"holdings"`
	Records             map[string]*wireRecord `json:"pos_records"`
	TotalValue          *float64               `json:"total_value"`
	GuardTriggeredToday *bool                  `json:"guard_triggered_today"`
	GuardFired          map[string]string      `json:"guard_fired,omitempty"`
}

type wireRecord struct {
	Shares     *float64 `json:"shares"`
	EntryPrice *float64 `json:"entry_price"`
	HighPrice  *float64 `json:"high_price"`
	EntryAt    *string  `json:"entry_dt"`
}

// Encode serializes the snapshot as indented JSON, the human-readable form
// the on-disk canonical file uses.
func (s *Snapshot) Encode() ([]byte, error) {
	w := wireSnapshot{
		DaysCount:   &s.DaysCount,
		Initialized: &s.Initialized,
		Tranches:    make([]*wireTranche, 0, len(s.Tranches)),
	}
	committed := s.CommittedAt.Format(time.RFC3339Nano)
	w.CommittedAt = &committed

	for i := range s.Tranches {
		t := &s.Tranches[i]
		wt := &wireTranche{
			ID:                  &t.ID,
			Cash:                &t.Cash,
			Holdings:            t.Holdings,
			Records:             make(map[string]*wireRecord, len(t.Records)),
			TotalValue:          &t.TotalValue,
			GuardTriggeredToday: &t.GuardTriggeredToday,
			GuardFired:          t.GuardFired,
		}
		if wt.Holdings == nil {
			wt.Holdings = map[string]float64{}
		}
		for sym, rec := range t.Records {
			entry := rec.EntryAt.Format(time.RFC3339Nano)
			shares, ep, hp := rec.Shares, rec.EntryPrice, rec.HighPrice
			wt.Records[sym] = &wireRecord{
				Shares:     &shares,
				EntryPrice: &ep,
				HighPrice:  &hp,
				EntryAt:    &entry,
			}
		}
		w.Tranches = append(w.Tranches, wt)
	}
	return json.MarshalIndent(&w, "", "  ")
}

// DecodeSnapshot parses and strictly validates serialized snapshot data.
// Any missing or malformed required field returns a SchemaError; malformed
// JSON returns the underlying decode error.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var w wireSnapshot
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	if w.DaysCount == nil {
		return nil, &SchemaError{Field: "days_count", Reason: "missing"}
	}
	if *w.DaysCount < 0 {
		return nil, &SchemaError{Field: "days_count", Reason: "negative"}
	}
	if w.CommittedAt == nil {
		return nil, &SchemaError{Field: "committed_at", Reason: "missing"}
	}
	committedAt, err := time.Parse(time.RFC3339Nano, *w.CommittedAt)
	if err != nil {
		return nil, &SchemaError{Field: "committed_at", Reason: err.Error()}
	}
	if w.Initialized == nil {
		return nil, &SchemaError{Field: "initialized", Reason: "missing"}
	}

	s := &Snapshot{
		DaysCount:   *w.DaysCount,
		CommittedAt: committedAt,
		Initialized: *w.Initialized,
		Tranches:    make([]TrancheSnapshot, 0, len(w.Tranches)),
	}

	for i, wt := range w.Tranches {
		prefix := fmt.Sprintf("tranches[%d]", i)
		if wt == nil {
			return nil, &SchemaError{Field: prefix, Reason: "null"}
		}
		if wt.ID == nil {
			return nil, &SchemaError{Field: prefix + ".id", Reason: "missing"}
		}
		if wt.Cash == nil {
			return nil, &SchemaError{Field: prefix + ".cash", Reason: "missing"}
		}
		if wt.TotalValue == nil {
			return nil, &SchemaError{Field: prefix + ".total_value", Reason: "missing"}
		}
		if wt.GuardTriggeredToday == nil {
			return nil, &SchemaError{Field: prefix + ".guard_triggered_today", Reason: "missing"}
		}
		if wt.Holdings == nil {
			return nil, &SchemaError{Field: prefix + ".holdings", Reason: "missing"}
		}

		ts := TrancheSnapshot{
			ID:                  *wt.ID,
			Cash:                *wt.Cash,
			Holdings:            wt.Holdings,
			Records:             make(map[string]RecordSnapshot, len(wt.Records)),
			TotalValue:          *wt.TotalValue,
			GuardTriggeredToday: *wt.GuardTriggeredToday,
			GuardFired:          wt.GuardFired,
		}

		for sym, wr := range wt.Records {
			rp := fmt.Sprintf("%s.pos_records[%s]", prefix, sym)
			if wr == nil {
				return nil, &SchemaError{Field: rp, Reason: "null"}
			}
			if wr.Shares == nil {
				return nil, &SchemaError{Field: rp + ".shares", Reason: "missing"}
			}
			if wr.EntryPrice == nil {
				return nil, &SchemaError{Field: rp + ".entry_price", Reason: "missing"}
			}
			if wr.HighPrice == nil {
				return nil, &SchemaError{Field: rp + ".high_price", Reason: "missing"}
			}
			if wr.EntryAt == nil {
				return nil, &SchemaError{Field: rp + ".entry_dt", Reason: "missing"}
			}
			entryAt, err := time.Parse(time.RFC3339Nano, *wr.EntryAt)
			if err != nil {
				return nil, &SchemaError{Field: rp + ".entry_dt", Reason: err.Error()}
			}
			ts.Records[sym] = RecordSnapshot{
				Shares:     *wr.Shares,
				EntryPrice: *wr.EntryPrice,
				HighPrice:  *wr.HighPrice,
				EntryAt:    entryAt,
			}
		}

		// Invariant: every nonzero holding pairs with exactly one record.
		for sym, shares := range ts.Holdings {
			if shares != 0 {
				if _, ok := ts.Records[sym]; !ok {
					return nil, &SchemaError{
						Field:  prefix + ".pos_records[" + sym + "]",
						Reason: "holding without position record",
					}
				}
			}
		}
		for sym := range ts.Records {
			if ts.Holdings[sym] == 0 {
				return nil, &SchemaError{
					Field:  prefix + ".holdings[" + sym + "]",
					Reason: "position record without holding",
				}
			}
		}

		s.Tranches = append(s.Tranches, ts)
	}

	return s, nil
}

// Snapshot produces an immutable deep copy of the ledger stamped with the
// given commit time.
func (l *Ledger) Snapshot(at time.Time) *Snapshot {
	s := &Snapshot{
		DaysCount:   l.daysCount,
		CommittedAt: at,
		Initialized: l.initialized,
		Tranches:    make([]TrancheSnapshot, 0, len(l.tranches)),
	}
	for _, t := range l.tranches {
		ts := TrancheSnapshot{
			ID:                  t.ID,
			Cash:                t.Cash,
			Holdings:            make(map[string]float64, len(t.Holdings)),
			Records:             make(map[string]RecordSnapshot, len(t.Records)),
			TotalValue:          t.TotalValue,
			GuardTriggeredToday: t.GuardTriggeredToday,
			GuardFired:          make(map[string]string, len(t.guardFired)),
		}
		for sym, shares := range t.Holdings {
			ts.Holdings[sym] = shares
		}
		for sym, rec := range t.Records {
			ts.Records[sym] = RecordSnapshot{
				Shares:     rec.Shares,
				EntryPrice: rec.EntryPrice,
				HighPrice:  rec.HighPrice,
				EntryAt:    rec.EntryAt,
			}
		}
		for sym, day := range t.guardFired {
			ts.GuardFired[sym] = day
		}
		s.Tranches = append(s.Tranches, ts)
	}
	return s
}

// Restore replaces the ledger's in-memory state with the snapshot's.
func (l *Ledger) Restore(s *Snapshot) error {
	if s == nil {
		return &SchemaError{Field: "snapshot", Reason: "nil"}
	}
	tranches := make([]*Tranche, 0, len(s.Tranches))
	for i := range s.Tranches {
		ts := &s.Tranches[i]
		t := newTranche(ts.ID, ts.Cash)
		t.TotalValue = ts.TotalValue
		t.GuardTriggeredToday = ts.GuardTriggeredToday
		for sym, shares := range ts.Holdings {
			t.Holdings[sym] = shares
		}
		for sym, rec := range ts.Records {
			t.Records[sym] = &PositionRecord{
				Symbol:     sym,
				Shares:     rec.Shares,
				EntryPrice: rec.EntryPrice,
				HighPrice:  rec.HighPrice,
				EntryAt:    rec.EntryAt,
			}
		}
		for sym, day := range ts.GuardFired {
			t.guardFired[sym] = day
		}
		tranches = append(tranches, t)
	}
	l.tranches = tranches
	l.daysCount = s.DaysCount
	l.committedAt = s.CommittedAt
	l.initialized = s.Initialized
	return nil
}

// MarkCommitted records the timestamp of the last successful durable
// commit.
func (l *Ledger) MarkCommitted(at time.Time) {
	l.committedAt = at
}
