// Package store defines durable persistence for observers, observations
// and exchanges. The relational store is the system of record; content
// store and ledger references are recorded here as opaque strings.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ubec.eco/reciprocity/model"
)

// Store persists the observation ledger of record.
//
// Contract:
//   - UpsertObserver MUST be safe under concurrent first contact for the
//     same identity: exactly one row per (kind, device_id|email) survives
//     and every caller receives it.
//   - CreateObservation and CreateExchange MUST reject duplicate IDs.
//   - AttachVerification only annotates; it MUST NOT touch readings,
//     quality score or exchange amounts.
//   - All methods MUST honor ctx cancellation.
type Store interface {
	// UpsertObserver inserts obs or returns the existing observer with
	// the same identity. The returned observer is always the stored row.
	UpsertObserver(ctx context.Context, obs model.Observer) (model.Observer, error)

	// GetObserver fetches an observer by ID.
	GetObserver(ctx context.Context, id uuid.UUID) (model.Observer, error)

	// FindObserverByDevice fetches a device observer by its device ID.
	FindObserverByDevice(ctx context.Context, deviceID string) (model.Observer, error)

	// CreateObservation records a new observation.
	CreateObservation(ctx context.Context, o model.Observation) error

	// GetObservation fetches an observation by ID.
	GetObservation(ctx context.Context, id uuid.UUID) (model.Observation, error)

	// LatestReadings returns the readings of the observer's most recent
	// observation captured strictly before the given time, or nil when
	// none exists.
	LatestReadings(ctx context.Context, observerID uuid.UUID, before time.Time) (map[string]float64, error)

	// CreateExchange records a new exchange row.
	CreateExchange(ctx context.Context, x model.Exchange) error

	// GetExchange fetches an exchange by observation ID.
	GetExchange(ctx context.Context, observationID uuid.UUID) (model.Exchange, error)

	// UnsettledExchanges lists exchanges whose ledger leg was skipped and
	// whose observer has a payable address, oldest first, at most limit.
	UnsettledExchanges(ctx context.Context, limit int) ([]model.Exchange, error)

	// SettleExchange records a successful late payment on an exchange.
	SettleExchange(ctx context.Context, exchangeID uuid.UUID, ledgerRef string, amount decimal.Decimal) error

	// AttachVerification records a verification annotation on an
	// observation and, when fullyVerified, flags its exchange.
	AttachVerification(ctx context.Context, observationID uuid.UUID, confidence float64, verifiedAt time.Time, fullyVerified bool) error
}
