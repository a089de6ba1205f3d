// Package exec submits order batches to the venue and confirms their final
// disposition. Nothing reaches the ledger on the strength of a submission
// alone; only venue-confirmed fills count.
package exec

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/tranche/broker"
)

// Outcome is the final disposition of one order in a batch.
type Outcome struct {
	Order        broker.Order
	OrderID      string
	Status       broker.OrderStatus
	FilledShares float64
	AvgPrice     float64
	Err          error
}

// Result buckets a batch by disposition. Partial, Unresolved, and Rejected
// must feed reconciliation before any optimistic post-order state commits.
type Result struct {
	Filled     []Outcome
	Partial    []Outcome
	Unresolved []Outcome
	Rejected   []Outcome
}

// Clean reports whether every order filled completely.
func (r *Result) Clean() bool {
	return len(r.Partial) == 0 && len(r.Unresolved) == 0 && len(r.Rejected) == 0
}

// Confirmed returns the outcomes that moved shares: full and partial fills.
func (r *Result) Confirmed() []Outcome {
	out := make([]Outcome, 0, len(r.Filled)+len(r.Partial))
	out = append(out, r.Filled...)
	out = append(out, r.Partial...)
	return out
}

// Verifier drives submission and confirmation against a venue.
type Verifier struct {
	venue      broker.Venue
	poll       time.Duration
	maxRetries int
	backoff    time.Duration
	log        zerolog.Logger
}

// New creates a verifier. poll is the venue status poll interval; transient
// submission failures retry up to maxRetries with linear backoff.
func New(venue broker.Venue, poll time.Duration, maxRetries int, backoff time.Duration, log zerolog.Logger) *Verifier {
	return &Verifier{
		venue:      venue,
		poll:       poll,
		maxRetries: maxRetries,
		backoff:    backoff,
		log:        log,
	}
}

type pending struct {
	order   broker.Order
	orderID string
}

// SubmitAndVerify submits every order in the batch, then polls the venue up
// to timeout for terminal states. A failed submission never aborts the
// batch; the failure is recorded and the rest proceed. Orders still
// non-terminal at timeout get one cancellation request and are recorded
// unresolved. The returned error is non-nil only for context cancellation,
// and the partial result is still valid then.
func (v *Verifier) SubmitAndVerify(ctx context.Context, orders []broker.Order, timeout time.Duration) (*Result, error) {
	res := &Result{}
	var open []pending

	for _, o := range orders {
		oid, err := v.submitWithRetry(ctx, o)
		if err != nil {
			v.log.Error().Err(err).
				Str("symbol", o.Symbol).
				Str("client_id", o.ClientID).
				Msg("order submission failed")
			res.Rejected = append(res.Rejected, Outcome{
				Order:  o,
				Status: broker.StatusRejected,
				Err:    err,
			})
			continue
		}
		open = append(open, pending{order: o, orderID: oid})
	}

	deadline := time.Now().Add(timeout)
	for len(open) > 0 && time.Now().Before(deadline) {
		// Termination must be observed between poll iterations.
		if err := ctx.Err(); err != nil {
			v.abandon(ctx, open, res)
			return res, err
		}

		var still []pending
		for _, p := range open {
			st, err := v.venue.GetOrderStatus(ctx, p.orderID)
			if err != nil {
				// A failed poll is retried on the next tick; the
				// deadline bounds the total effort.
				v.log.Warn().Err(err).Str("order_id", p.orderID).Msg("status poll failed")
				still = append(still, p)
				continue
			}
			if !st.Status.Terminal() {
				still = append(still, p)
				continue
			}
			v.record(res, p, st)
		}
		open = still
		if len(open) == 0 {
			break
		}

		select {
		case <-ctx.Done():
			v.abandon(ctx, open, res)
			return res, ctx.Err()
		case <-time.After(v.poll):
		}
	}

	// Anything still non-terminal gets one cancellation request and is
	// recorded unresolved for reconciliation to sort out.
	for _, p := range open {
		if err := v.venue.CancelOrder(ctx, p.orderID); err != nil {
			v.log.Error().Err(err).Str("order_id", p.orderID).
				Msg("cancellation request failed")
		}
		v.log.Warn().
			Str("order_id", p.orderID).
			Str("symbol", p.order.Symbol).
			Msg("order unresolved at timeout, cancellation requested")
		res.Unresolved = append(res.Unresolved, Outcome{
			Order:   p.order,
			OrderID: p.orderID,
			Status:  broker.StatusPending,
		})
	}

	return res, nil
}

func (v *Verifier) record(res *Result, p pending, st broker.OrderState) {
	out := Outcome{
		Order:        p.order,
		OrderID:      p.orderID,
		Status:       st.Status,
		FilledShares: st.FilledShares,
		AvgPrice:     st.AvgPrice,
	}
	switch st.Status {
	case broker.StatusFilled:
		res.Filled = append(res.Filled, out)
	case broker.StatusPartiallyFilled:
		res.Partial = append(res.Partial, out)
		v.log.Warn().
			Str("symbol", p.order.Symbol).
			Float64("wanted", p.order.DeltaShares).
			Float64("filled", st.FilledShares).
			Msg("partial fill")
	default:
		res.Rejected = append(res.Rejected, out)
		v.log.Warn().
			Str("symbol", p.order.Symbol).
			Str("status", string(st.Status)).
			Msg("order did not execute")
	}
}

// abandon handles context cancellation mid-verification: every still-open
// order gets a cancellation request and an unresolved record, so the final
// commit reflects in-flight work instead of silently dropping it.
func (v *Verifier) abandon(ctx context.Context, open []pending, res *Result) {
	for _, p := range open {
		// Best effort with a detached deadline; ctx is already dead.
		cctx, cancel := context.WithTimeout(context.Background(), v.poll)
		if err := v.venue.CancelOrder(cctx, p.orderID); err != nil {
			v.log.Error().Err(err).Str("order_id", p.orderID).
				Msg("cancellation during shutdown failed")
		}
		cancel()
		res.Unresolved = append(res.Unresolved, Outcome{
			Order:   p.order,
			OrderID: p.orderID,
			Status:  broker.StatusPending,
		})
	}
}

func (v *Verifier) submitWithRetry(ctx context.Context, o broker.Order) (string, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		oid, err := v.venue.SubmitOrder(ctx, o)
		if err == nil {
			return oid, nil
		}
		if !broker.IsTransient(err) {
			return "", err
		}
		lastErr = err
		if attempt >= v.maxRetries {
			break
		}
		wait := v.backoff * time.Duration(attempt+1)
		v.log.Warn().Err(err).
			Str("symbol", o.Symbol).
			Int("attempt", attempt+1).
			Dur("backoff", wait).
			Msg("transient submit failure, retrying")
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
	}
	return "", lastErr
}
