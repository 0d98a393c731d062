// Package memstore implements store.Store in process memory. It backs
// tests and single-node evaluation runs; production deployments use the
// postgres implementation.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ubec.eco/reciprocity/model"
	"ubec.eco/reciprocity/store"
)

type Mem struct {
	mu           sync.Mutex
	observers    map[uuid.UUID]model.Observer
	observations map[uuid.UUID]model.Observation
	exchanges    map[uuid.UUID]model.Exchange
	byObsID      map[uuid.UUID]uuid.UUID // observation ID -> exchange ID
}

var _ store.Store = (*Mem)(nil)

func New() *Mem {
	return &Mem{
		observers:    make(map[uuid.UUID]model.Observer),
		observations: make(map[uuid.UUID]model.Observation),
		exchanges:    make(map[uuid.UUID]model.Exchange),
		byObsID:      make(map[uuid.UUID]uuid.UUID),
	}
}

// identityKey mirrors the unique index the postgres schema enforces.
func identityKey(obs model.Observer) string {
	if obs.DeviceID != "" {
		return string(obs.Kind) + "|device|" + obs.DeviceID
	}
	return string(obs.Kind) + "|email|" + strings.ToLower(obs.Email)
}

func (m *Mem) UpsertObserver(ctx context.Context, obs model.Observer) (model.Observer, error) {
	if err := ctx.Err(); err != nil {
		return model.Observer{}, err
	}
	if obs.DeviceID == "" && obs.Email == "" {
		return model.Observer{}, store.ErrNoIdentity
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := identityKey(obs)
	for _, existing := range m.observers {
		if identityKey(existing) == key {
			// First writer wins; later registrations may still attach
			// a payment address to an address-less row.
			if existing.BaseAddress == "" && obs.BaseAddress != "" {
				existing.BaseAddress = obs.BaseAddress
				existing.MuxedAddress = obs.MuxedAddress
				m.observers[existing.ID] = existing
			}
			return existing, nil
		}
	}
	if obs.ID == uuid.Nil {
		obs.ID = uuid.New()
	}
	if obs.CreatedAt.IsZero() {
		obs.CreatedAt = time.Now().UTC()
	}
	obs.Active = true
	m.observers[obs.ID] = obs
	return obs, nil
}

func (m *Mem) GetObserver(ctx context.Context, id uuid.UUID) (model.Observer, error) {
	if err := ctx.Err(); err != nil {
		return model.Observer{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	obs, ok := m.observers[id]
	if !ok {
		return model.Observer{}, store.ErrNotFound
	}
	return obs, nil
}

func (m *Mem) FindObserverByDevice(ctx context.Context, deviceID string) (model.Observer, error) {
	if err := ctx.Err(); err != nil {
		return model.Observer{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, obs := range m.observers {
		if obs.DeviceID == deviceID {
			return obs, nil
		}
	}
	return model.Observer{}, store.ErrNotFound
}

func (m *Mem) CreateObservation(ctx context.Context, o model.Observation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.observations[o.ID]; ok {
		return store.ErrDuplicate
	}
	// Copy the readings map so callers cannot mutate stored state.
	readings := make(map[string]float64, len(o.Readings))
	for k, v := range o.Readings {
		readings[k] = v
	}
	o.Readings = readings
	m.observations[o.ID] = o
	return nil
}

func (m *Mem) GetObservation(ctx context.Context, id uuid.UUID) (model.Observation, error) {
	if err := ctx.Err(); err != nil {
		return model.Observation{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.observations[id]
	if !ok {
		return model.Observation{}, store.ErrNotFound
	}
	return o, nil
}

func (m *Mem) LatestReadings(ctx context.Context, observerID uuid.UUID, before time.Time) (map[string]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		best  model.Observation
		found bool
	)
	for _, o := range m.observations {
		if o.ObserverID != observerID || !o.CapturedAt.Before(before) {
			continue
		}
		if !found || o.CapturedAt.After(best.CapturedAt) {
			best, found = o, true
		}
	}
	if !found {
		return nil, nil
	}
	out := make(map[string]float64, len(best.Readings))
	for k, v := range best.Readings {
		out[k] = v
	}
	return out, nil
}

func (m *Mem) CreateExchange(ctx context.Context, x model.Exchange) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.exchanges[x.ID]; ok {
		return store.ErrDuplicate
	}
	m.exchanges[x.ID] = x
	m.byObsID[x.ObservationID] = x.ID
	return nil
}

func (m *Mem) GetExchange(ctx context.Context, observationID uuid.UUID) (model.Exchange, error) {
	if err := ctx.Err(); err != nil {
		return model.Exchange{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byObsID[observationID]
	if !ok {
		return model.Exchange{}, store.ErrNotFound
	}
	return m.exchanges[id], nil
}

func (m *Mem) UnsettledExchanges(ctx context.Context, limit int) ([]model.Exchange, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Exchange
	for _, x := range m.exchanges {
		if x.LedgerRef != nil || x.MuxedAddress == "" {
			continue
		}
		out = append(out, x)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Mem) SettleExchange(ctx context.Context, exchangeID uuid.UUID, ledgerRef string, amount decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	x, ok := m.exchanges[exchangeID]
	if !ok {
		return store.ErrNotFound
	}
	x.LedgerRef = &ledgerRef
	x.Amount = amount
	m.exchanges[exchangeID] = x
	return nil
}

func (m *Mem) AttachVerification(ctx context.Context, observationID uuid.UUID, confidence float64, verifiedAt time.Time, fullyVerified bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.observations[observationID]
	if !ok {
		return store.ErrNotFound
	}
	o.VerifiedAt = &verifiedAt
	o.VerifiedConfidence = confidence
	m.observations[observationID] = o
	if fullyVerified {
		if id, ok := m.byObsID[observationID]; ok {
			x := m.exchanges[id]
			x.FullyVerified = true
			m.exchanges[id] = x
		}
	}
	return nil
}
