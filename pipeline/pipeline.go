// Package pipeline ingests sensor observations: it scores them, writes
// the canonical payload to the content store, pays the reward on the
// ledger and records everything in the relational store.
//
// The content and ledger legs are best effort. When either is down the
// observation is still recorded with a nil reference so a later
// reconciliation pass can finish the work. The relational leg is the
// system of record and its failure fails the whole submission.
package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"ubec.eco/reciprocity/contentstore"
	"ubec.eco/reciprocity/ledger"
	"ubec.eco/reciprocity/model"
	"ubec.eco/reciprocity/muxaddr"
	"ubec.eco/reciprocity/quality"
	"ubec.eco/reciprocity/store"
)

// DefaultOutboundLimit bounds concurrent content store and ledger calls
// across all in-flight submissions.
const DefaultOutboundLimit = 16

// Submission is one incoming observation.
//
// DeviceID identifies device observers; Email identifies human ones. At
// least one is required. BaseAddress is optional and only consulted on
// first contact or while the observer has no address registered yet.
type Submission struct {
	DeviceID    string
	Email       string
	BaseAddress string
	Readings    map[string]float64
	Location    *model.Coordinates
	Metadata    map[string]any
	CapturedAt  time.Time
}

// Pipeline orchestrates observation ingestion.
type Pipeline struct {
	store  store.Store
	cas    contentstore.CAS
	ledger ledger.Ledger
	log    zerolog.Logger
	sem    *semaphore.Weighted
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]model.Observer // identity key -> observer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger replaces the default nop logger.
func WithLogger(log zerolog.Logger) Option { return func(p *Pipeline) { p.log = log } }

// WithOutboundLimit caps concurrent outbound leg calls.
func WithOutboundLimit(n int64) Option {
	return func(p *Pipeline) { p.sem = semaphore.NewWeighted(n) }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

// New builds a pipeline. cas and lg may be nil; the corresponding leg is
// then always skipped.
func New(st store.Store, cas contentstore.CAS, lg ledger.Ledger, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:  st,
		cas:    cas,
		ledger: lg,
		log:    zerolog.Nop(),
		sem:    semaphore.NewWeighted(DefaultOutboundLimit),
		now:    func() time.Time { return time.Now().UTC() },
		cache:  make(map[string]model.Observer),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs one submission through the full ingestion flow.
func (p *Pipeline) Process(ctx context.Context, sub Submission) (model.ProcessResult, error) {
	if err := validate(sub); err != nil {
		return model.ProcessResult{}, err
	}
	capturedAt := sub.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = p.now()
	}

	observer, err := p.resolveObserver(ctx, sub)
	if err != nil {
		return model.ProcessResult{}, model.WrapError(model.ErrObserverResolutionFailed, "resolve observer", err)
	}

	previous, err := p.store.LatestReadings(ctx, observer.ID, capturedAt)
	if err != nil {
		// Temporal context is an enrichment, not a requirement.
		p.log.Warn().Err(err).Stringer("observer", observer.ID).Msg("previous readings unavailable")
		previous = nil
	}
	score := quality.Score(sub.Readings, previous)
	reward := quality.ComputeReward(sub.Readings, score, nil)

	observationID := uuid.New()
	muxed := p.deriveAddress(observer, sub.DeviceID)

	payload := model.ObservationPayload{
		ObservationID: observationID.String(),
		DeviceID:      sub.DeviceID,
		RecordedAt:    capturedAt,
		Readings:      sub.Readings,
		Location:      sub.Location,
		Metadata:      sub.Metadata,
		QualityScore:  score,
		RewardAmount:  reward.String(),
		MuxedAddress:  muxed,
	}

	contentRef := p.storeContent(ctx, observationID, payload)
	ledgerRef, paidAmount := p.payReward(ctx, observationID, muxed, reward)

	observation := model.Observation{
		ID:           observationID,
		ObserverID:   observer.ID,
		Readings:     sub.Readings,
		Location:     sub.Location,
		CapturedAt:   capturedAt,
		QualityScore: score,
	}
	if err := p.store.CreateObservation(ctx, observation); err != nil {
		return model.ProcessResult{}, model.WrapError(model.ErrPersistenceFailed, "record observation", err)
	}
	exchange := model.Exchange{
		ID:            uuid.New(),
		ObservationID: observationID,
		ObserverID:    observer.ID,
		Amount:        paidAmount,
		ContentRef:    contentRef,
		LedgerRef:     ledgerRef,
		MuxedAddress:  muxed,
		CreatedAt:     p.now(),
	}
	if err := p.store.CreateExchange(ctx, exchange); err != nil {
		return model.ProcessResult{}, model.WrapError(model.ErrPersistenceFailed, "record exchange", err)
	}

	p.log.Info().
		Stringer("observation", observationID).
		Float64("quality", score).
		Str("reward", paidAmount.String()).
		Bool("content", contentRef != nil).
		Bool("paid", ledgerRef != nil).
		Msg("observation processed")

	return model.ProcessResult{
		ObservationID: observationID,
		ExchangeID:    exchange.ID,
		ContentRef:    contentRef,
		LedgerRef:     ledgerRef,
		MuxedAddress:  muxed,
		RewardAmount:  paidAmount,
		QualityScore:  score,
		RecordedAt:    capturedAt,
	}, nil
}

func validate(sub Submission) error {
	if sub.DeviceID == "" && sub.Email == "" {
		return model.NewError(model.ErrInvalidInput, "submission has neither device id nor email")
	}
	if len(sub.Readings) == 0 {
		return model.NewError(model.ErrInvalidInput, "submission has no readings")
	}
	if quality.CountNumericSensors(sub.Readings) == 0 {
		return model.NewError(model.ErrInvalidInput, "readings contain no numeric values")
	}
	return nil
}

func identityKey(sub Submission) string {
	if sub.DeviceID != "" {
		return "device|" + sub.DeviceID
	}
	return "email|" + sub.Email
}

// resolveObserver finds or creates the submitting observer, consulting a
// cache-aside map first. The store upsert stays the authority; the cache
// only short-circuits repeat contacts that need no address update.
func (p *Pipeline) resolveObserver(ctx context.Context, sub Submission) (model.Observer, error) {
	key := identityKey(sub)

	p.mu.Lock()
	cached, ok := p.cache[key]
	p.mu.Unlock()
	if ok && (sub.BaseAddress == "" || cached.BaseAddress != "") {
		return cached, nil
	}

	kind := model.ObserverDevice
	if sub.DeviceID == "" {
		kind = model.ObserverHuman
	}
	candidate := model.Observer{
		Kind:        kind,
		DeviceID:    sub.DeviceID,
		Email:       sub.Email,
		BaseAddress: sub.BaseAddress,
	}
	if candidate.BaseAddress != "" && sub.DeviceID != "" {
		if derived, err := muxaddr.Derive(candidate.BaseAddress, sub.DeviceID); err == nil {
			candidate.MuxedAddress = derived
		}
	}
	observer, err := p.store.UpsertObserver(ctx, candidate)
	if err != nil {
		return model.Observer{}, err
	}

	p.mu.Lock()
	p.cache[key] = observer
	p.mu.Unlock()
	return observer, nil
}

// deriveAddress returns the payout sub-address, or "" when the observer
// has no registered base address.
func (p *Pipeline) deriveAddress(observer model.Observer, deviceID string) string {
	if observer.BaseAddress == "" {
		return ""
	}
	device := deviceID
	if device == "" {
		device = observer.Email
	}
	muxed, err := muxaddr.Derive(observer.BaseAddress, device)
	if err != nil {
		p.log.Warn().Err(err).Stringer("observer", observer.ID).Msg("sub-address derivation failed")
		return ""
	}
	return muxed
}

// storeContent writes the payload to the content store. Best effort.
func (p *Pipeline) storeContent(ctx context.Context, id uuid.UUID, payload model.ObservationPayload) *string {
	if p.cas == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Error().Err(err).Stringer("observation", id).Msg("payload encoding failed")
		return nil
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil
	}
	defer p.sem.Release(1)
	contentID, err := p.cas.Put(ctx, data)
	if err != nil {
		p.log.Warn().Err(err).Stringer("observation", id).Msg("content store leg skipped")
		return nil
	}
	ref := contentID.String()
	return &ref
}

// payReward submits the ledger payment. Best effort; returns the recorded
// amount, which is zero when the payment was skipped.
func (p *Pipeline) payReward(ctx context.Context, id uuid.UUID, muxed string, reward decimal.Decimal) (*string, decimal.Decimal) {
	if p.ledger == nil || muxed == "" || reward.IsZero() {
		return nil, decimal.Zero
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, decimal.Zero
	}
	defer p.sem.Release(1)
	ref, err := p.ledger.Pay(ctx, muxed, reward, Memo(id))
	if err != nil {
		p.log.Warn().Err(err).Stringer("observation", id).Msg("ledger leg skipped")
		return nil, decimal.Zero
	}
	return &ref, reward
}

// Memo is the text memo attached to an observation's reward payment.
// Text memos are capped at 28 bytes, so only a prefix of the ID travels.
func Memo(observationID uuid.UUID) string {
	return "obs:" + observationID.String()[:8]
}
