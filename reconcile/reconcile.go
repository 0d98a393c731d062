// Package reconcile finishes work the ingestion pipeline deferred: it
// retries skipped reward payments and attaches verification annotations
// to the relational store. It is the only writer of those annotations;
// the verifier itself stays read-only.
package reconcile

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ubec.eco/reciprocity/cidutil"
	"ubec.eco/reciprocity/contentstore"
	"ubec.eco/reciprocity/ledger"
	"ubec.eco/reciprocity/model"
	"ubec.eco/reciprocity/pipeline"
	"ubec.eco/reciprocity/quality"
	"ubec.eco/reciprocity/store"
	"ubec.eco/reciprocity/verify"
)

// Reconciler drives one reconciliation pass.
type Reconciler struct {
	store    store.Store
	cas      contentstore.CAS
	ledger   ledger.Ledger
	verifier *verify.Verifier
	log      zerolog.Logger
	now      func() time.Time
}

// Option configures a Reconciler.
type Option func(*Reconciler)

func WithLogger(log zerolog.Logger) Option { return func(r *Reconciler) { r.log = log } }

func WithClock(now func() time.Time) Option { return func(r *Reconciler) { r.now = now } }

func New(st store.Store, cas contentstore.CAS, lg ledger.Ledger, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:  st,
		cas:    cas,
		ledger: lg,
		log:    zerolog.Nop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	r.verifier = verify.New(cas, lg, verify.WithClock(r.now))
	return r
}

// Report summarizes one pass.
type Report struct {
	Examined  int
	Settled   int
	Annotated int
	Failures  []string
}

// Run settles pending payments and re-annotates the touched
// observations. Per-exchange failures are collected, never fatal.
func (r *Reconciler) Run(ctx context.Context, limit int) (Report, error) {
	pending, err := r.store.UnsettledExchanges(ctx, limit)
	if err != nil {
		return Report{}, model.WrapError(model.ErrPersistenceFailed, "list unsettled exchanges", err)
	}

	report := Report{Examined: len(pending)}
	for _, x := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := r.settle(ctx, x); err != nil {
			report.Failures = append(report.Failures, x.ObservationID.String()+": "+err.Error())
			continue
		}
		report.Settled++
		if err := r.Annotate(ctx, x.ObservationID); err != nil {
			report.Failures = append(report.Failures, x.ObservationID.String()+": "+err.Error())
			continue
		}
		report.Annotated++
	}
	return report, nil
}

// settle pays one exchange at its declared amount and records the
// transaction reference.
func (r *Reconciler) settle(ctx context.Context, x model.Exchange) error {
	amount, err := r.declaredAmount(ctx, x)
	if err != nil {
		return err
	}
	if amount.IsZero() {
		// Nothing owed; close the exchange out so it stops surfacing.
		return r.store.SettleExchange(ctx, x.ID, "", amount)
	}
	if r.ledger == nil {
		return model.NewError(model.ErrLedgerUnavailable, "no ledger configured")
	}
	ref, err := r.ledger.Pay(ctx, x.MuxedAddress, amount, pipeline.Memo(x.ObservationID))
	if err != nil {
		return model.WrapError(model.ErrLedgerUnavailable, "settle payment", err)
	}
	if err := r.store.SettleExchange(ctx, x.ID, ref, amount); err != nil {
		// The payment went out but the record did not update; the next
		// pass would pay again. Surface loudly.
		r.log.Error().Err(err).
			Stringer("exchange", x.ID).
			Str("tx", ref).
			Msg("paid but failed to record settlement")
		return model.WrapError(model.ErrPersistenceFailed, "record settlement", err)
	}
	r.log.Info().
		Stringer("observation", x.ObservationID).
		Str("amount", amount.String()).
		Str("tx", ref).
		Msg("exchange settled")
	return nil
}

// declaredAmount recovers what the observation was owed. The stored
// payload is authoritative; when the content leg was also skipped the
// amount is re-derived from the recorded readings and quality score,
// which reproduces the original value exactly.
func (r *Reconciler) declaredAmount(ctx context.Context, x model.Exchange) (decimal.Decimal, error) {
	if x.ContentRef != nil && r.cas != nil {
		if contentID, err := cidutil.Parse(*x.ContentRef); err == nil {
			data, err := r.cas.Get(ctx, contentID)
			if err == nil {
				var payload model.ObservationPayload
				if err := json.Unmarshal(data, &payload); err == nil && payload.RewardAmount != "" {
					if amount, err := decimal.NewFromString(payload.RewardAmount); err == nil {
						return amount, nil
					}
				}
			}
		}
		r.log.Warn().Str("ref", *x.ContentRef).Msg("payload unreadable, re-deriving reward")
	}
	o, err := r.store.GetObservation(ctx, x.ObservationID)
	if err != nil {
		return decimal.Zero, model.WrapError(model.ErrPersistenceFailed, "load observation", err)
	}
	return quality.ComputeReward(o.Readings, o.QualityScore, nil), nil
}

// Annotate verifies one observation and writes the result back. An
// exchange is flagged fully verified only when every check passed.
func (r *Reconciler) Annotate(ctx context.Context, observationID uuid.UUID) error {
	x, err := r.store.GetExchange(ctx, observationID)
	if err != nil {
		return model.WrapError(model.ErrPersistenceFailed, "load exchange", err)
	}
	res, err := r.verifier.Verify(ctx, verify.Target{
		ObservationID: observationID.String(),
		ContentRef:    x.ContentRef,
		LedgerRef:     x.LedgerRef,
	})
	if err != nil {
		return err
	}
	fullyVerified := res.Valid && len(res.Failures) == 0
	if err := r.store.AttachVerification(ctx, observationID, res.Confidence, res.VerifiedAt, fullyVerified); err != nil {
		return model.WrapError(model.ErrPersistenceFailed, "attach verification", err)
	}
	return nil
}
