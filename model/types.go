package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ObserverKind distinguishes device-class contributors from human ones.
type ObserverKind string

const (
	ObserverDevice ObserverKind = "device"
	ObserverHuman  ObserverKind = "human"
)

// Observer is an addressable contributor.
//
// Observers are created on first contact and never deleted, only deactivated.
// BaseAddress is empty when the observer has not registered for payments;
// MuxedAddress is a cache of the last derived sub-address and is never
// authoritative (it can always be recomputed from BaseAddress + DeviceID).
type Observer struct {
	ID           uuid.UUID    `json:"id"`
	Kind         ObserverKind `json:"kind"`
	DeviceID     string       `json:"deviceID,omitempty"`
	Email        string       `json:"email,omitempty"`
	BaseAddress  string       `json:"baseAddress,omitempty"`
	MuxedAddress string       `json:"muxedAddress,omitempty"`
	Active       bool         `json:"active"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// Coordinates is an optional observation location.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Observation is one sensor reading event.
//
// Immutable after creation except for the verification annotation, which is
// attached later by the reconciliation pass (never by the verifier itself).
type Observation struct {
	ID           uuid.UUID          `json:"id"`
	ObserverID   uuid.UUID          `json:"observerID"`
	Readings     map[string]float64 `json:"readings"`
	Location     *Coordinates       `json:"location,omitempty"`
	CapturedAt   time.Time          `json:"capturedAt"`
	QualityScore float64            `json:"qualityScore"`

	VerifiedAt         *time.Time `json:"verifiedAt,omitempty"`
	VerifiedConfidence float64    `json:"verifiedConfidence,omitempty"`
}

// Exchange is the recorded economic unit pairing a contribution with a reward.
//
// Amount is fixed at creation time and MUST never be recomputed or mutated;
// re-deriving it from the stored readings and quality score reproduces the
// same value. ContentRef and LedgerRef are nil when the corresponding leg
// failed or was skipped. FullyVerified is set only after verification
// confirms both references resolve and agree.
type Exchange struct {
	ID            uuid.UUID       `json:"id"`
	ObservationID uuid.UUID       `json:"observationID"`
	ObserverID    uuid.UUID       `json:"observerID"`
	Amount        decimal.Decimal `json:"amount"`
	ContentRef    *string         `json:"contentRef,omitempty"`
	LedgerRef     *string         `json:"ledgerRef,omitempty"`
	MuxedAddress  string          `json:"muxedAddress,omitempty"`
	FullyVerified bool            `json:"fullyVerified"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// ObservationPayload is the JSON document written to the content store.
//
// This is the wire shape the verifier re-reads; field names are stable.
// RewardAmount is the deterministically computed reward as a decimal string,
// recorded whether or not the payment leg was actually attempted.
type ObservationPayload struct {
	ObservationID string             `json:"observation_id"`
	DeviceID      string             `json:"device_id"`
	RecordedAt    time.Time          `json:"recorded_at"`
	Readings      map[string]float64 `json:"readings"`
	Location      *Coordinates       `json:"location,omitempty"`
	Metadata      map[string]any     `json:"metadata,omitempty"`
	QualityScore  float64            `json:"quality_score"`
	RewardAmount  string             `json:"reward_amount,omitempty"`
	MuxedAddress  string             `json:"muxed_address,omitempty"`
}

// ProcessResult is returned by the ingestion pipeline.
type ProcessResult struct {
	ObservationID uuid.UUID       `json:"observationID"`
	ExchangeID    uuid.UUID       `json:"exchangeID"`
	ContentRef    *string         `json:"contentRef,omitempty"`
	LedgerRef     *string         `json:"ledgerRef,omitempty"`
	MuxedAddress  string          `json:"muxedAddress,omitempty"`
	RewardAmount  decimal.Decimal `json:"rewardAmount"`
	QualityScore  float64         `json:"qualityScore"`
	RecordedAt    time.Time       `json:"recordedAt"`
}

// CheckResult is one named verification step.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Fatal  bool   `json:"fatal,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// VerificationResult is the verifier's verdict for one observation.
//
// Confidence is a multiplicatively degraded trust score in [0,1], not a
// probability. Valid requires no fatal failure and confidence above 0.8.
type VerificationResult struct {
	ObservationID string        `json:"observationID"`
	Valid         bool          `json:"valid"`
	Confidence    float64       `json:"confidence"`
	Checks        []CheckResult `json:"checks"`
	Failures      []string      `json:"failures,omitempty"`
	VerifiedAt    time.Time     `json:"verifiedAt"`
}
