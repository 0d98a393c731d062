// Package postgres implements store.Store on PostgreSQL via pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"ubec.eco/reciprocity/model"
	"ubec.eco/reciprocity/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS observers (
	id             UUID PRIMARY KEY,
	kind           TEXT NOT NULL,
	device_id      TEXT NOT NULL DEFAULT '',
	email          TEXT NOT NULL DEFAULT '',
	base_address   TEXT NOT NULL DEFAULT '',
	muxed_address  TEXT NOT NULL DEFAULT '',
	active         BOOLEAN NOT NULL DEFAULT TRUE,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS observers_device_key
	ON observers (kind, device_id) WHERE device_id <> '';
CREATE UNIQUE INDEX IF NOT EXISTS observers_email_key
	ON observers (kind, lower(email)) WHERE email <> '';

CREATE TABLE IF NOT EXISTS observations (
	id             UUID PRIMARY KEY,
	observer_id    UUID NOT NULL REFERENCES observers(id),
	readings       JSONB NOT NULL,
	location       JSONB,
	captured_at    TIMESTAMPTZ NOT NULL,
	quality_score  DOUBLE PRECISION NOT NULL,
	verified_at    TIMESTAMPTZ,
	verified_confidence DOUBLE PRECISION NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS observations_observer_time
	ON observations (observer_id, captured_at DESC);

CREATE TABLE IF NOT EXISTS exchanges (
	id              UUID PRIMARY KEY,
	observation_id  UUID NOT NULL UNIQUE REFERENCES observations(id),
	observer_id     UUID NOT NULL REFERENCES observers(id),
	amount          NUMERIC(12,2) NOT NULL,
	content_ref     TEXT,
	ledger_ref      TEXT,
	muxed_address   TEXT NOT NULL DEFAULT '',
	fully_verified  BOOLEAN NOT NULL DEFAULT FALSE,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS exchanges_unsettled
	ON exchanges (created_at) WHERE ledger_ref IS NULL AND muxed_address <> '';
`

type DB struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*DB)(nil)

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &DB{pool: pool}, nil
}

// Migrate applies the schema. Idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	_, err := d.pool.Exec(ctx, schema)
	return err
}

func (d *DB) Close() { d.pool.Close() }

func (d *DB) UpsertObserver(ctx context.Context, obs model.Observer) (model.Observer, error) {
	if obs.DeviceID == "" && obs.Email == "" {
		return model.Observer{}, store.ErrNoIdentity
	}
	if obs.ID == uuid.Nil {
		obs.ID = uuid.New()
	}

	// The conflict target must name the partial identity index that
	// applies, so the two identity shapes take separate statements. The
	// update only fills an empty payment address, never overwrites one.
	var q string
	if obs.DeviceID != "" {
		q = `
			INSERT INTO observers (id, kind, device_id, email, base_address, muxed_address)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (kind, device_id) WHERE device_id <> ''
			DO UPDATE SET
				base_address  = CASE WHEN observers.base_address = '' THEN EXCLUDED.base_address ELSE observers.base_address END,
				muxed_address = CASE WHEN observers.base_address = '' THEN EXCLUDED.muxed_address ELSE observers.muxed_address END
			RETURNING id, kind, device_id, email, base_address, muxed_address, active, created_at`
	} else {
		q = `
			INSERT INTO observers (id, kind, device_id, email, base_address, muxed_address)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (kind, lower(email)) WHERE email <> ''
			DO UPDATE SET
				base_address  = CASE WHEN observers.base_address = '' THEN EXCLUDED.base_address ELSE observers.base_address END,
				muxed_address = CASE WHEN observers.base_address = '' THEN EXCLUDED.muxed_address ELSE observers.muxed_address END
			RETURNING id, kind, device_id, email, base_address, muxed_address, active, created_at`
	}
	row := d.pool.QueryRow(ctx, q, obs.ID, obs.Kind, obs.DeviceID, obs.Email, obs.BaseAddress, obs.MuxedAddress)
	return scanObserver(row)
}

func (d *DB) GetObserver(ctx context.Context, id uuid.UUID) (model.Observer, error) {
	row := d.pool.QueryRow(ctx, `
		SELECT id, kind, device_id, email, base_address, muxed_address, active, created_at
		FROM observers WHERE id = $1`, id)
	obs, err := scanObserver(row)
	return obs, mapErr(err)
}

func (d *DB) FindObserverByDevice(ctx context.Context, deviceID string) (model.Observer, error) {
	row := d.pool.QueryRow(ctx, `
		SELECT id, kind, device_id, email, base_address, muxed_address, active, created_at
		FROM observers WHERE device_id = $1 AND device_id <> ''`, deviceID)
	obs, err := scanObserver(row)
	return obs, mapErr(err)
}

func (d *DB) CreateObservation(ctx context.Context, o model.Observation) error {
	readings, err := json.Marshal(o.Readings)
	if err != nil {
		return fmt.Errorf("postgres: encode readings: %w", err)
	}
	var location []byte
	if o.Location != nil {
		if location, err = json.Marshal(o.Location); err != nil {
			return fmt.Errorf("postgres: encode location: %w", err)
		}
	}
	_, err = d.pool.Exec(ctx, `
		INSERT INTO observations (id, observer_id, readings, location, captured_at, quality_score)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		o.ID, o.ObserverID, readings, location, o.CapturedAt, o.QualityScore)
	return mapErr(err)
}

func (d *DB) GetObservation(ctx context.Context, id uuid.UUID) (model.Observation, error) {
	row := d.pool.QueryRow(ctx, `
		SELECT id, observer_id, readings, location, captured_at, quality_score, verified_at, verified_confidence
		FROM observations WHERE id = $1`, id)
	o, err := scanObservation(row)
	return o, mapErr(err)
}

func (d *DB) LatestReadings(ctx context.Context, observerID uuid.UUID, before time.Time) (map[string]float64, error) {
	var raw []byte
	err := d.pool.QueryRow(ctx, `
		SELECT readings FROM observations
		WHERE observer_id = $1 AND captured_at < $2
		ORDER BY captured_at DESC LIMIT 1`, observerID, before).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var readings map[string]float64
	if err := json.Unmarshal(raw, &readings); err != nil {
		return nil, fmt.Errorf("postgres: decode readings: %w", err)
	}
	return readings, nil
}

func (d *DB) CreateExchange(ctx context.Context, x model.Exchange) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO exchanges (id, observation_id, observer_id, amount, content_ref, ledger_ref, muxed_address, fully_verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		x.ID, x.ObservationID, x.ObserverID, x.Amount.String(), x.ContentRef, x.LedgerRef, x.MuxedAddress, x.FullyVerified, x.CreatedAt)
	return mapErr(err)
}

func (d *DB) GetExchange(ctx context.Context, observationID uuid.UUID) (model.Exchange, error) {
	row := d.pool.QueryRow(ctx, `
		SELECT id, observation_id, observer_id, amount::text, content_ref, ledger_ref, muxed_address, fully_verified, created_at
		FROM exchanges WHERE observation_id = $1`, observationID)
	x, err := scanExchange(row)
	return x, mapErr(err)
}

func (d *DB) UnsettledExchanges(ctx context.Context, limit int) ([]model.Exchange, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.pool.Query(ctx, `
		SELECT id, observation_id, observer_id, amount::text, content_ref, ledger_ref, muxed_address, fully_verified, created_at
		FROM exchanges
		WHERE ledger_ref IS NULL AND muxed_address <> ''
		ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Exchange
	for rows.Next() {
		x, err := scanExchange(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, x)
	}
	return out, rows.Err()
}

func (d *DB) SettleExchange(ctx context.Context, exchangeID uuid.UUID, ledgerRef string, amount decimal.Decimal) error {
	tag, err := d.pool.Exec(ctx, `
		UPDATE exchanges SET ledger_ref = $2, amount = $3 WHERE id = $1`,
		exchangeID, ledgerRef, amount.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (d *DB) AttachVerification(ctx context.Context, observationID uuid.UUID, confidence float64, verifiedAt time.Time, fullyVerified bool) error {
	tag, err := d.pool.Exec(ctx, `
		UPDATE observations SET verified_at = $2, verified_confidence = $3 WHERE id = $1`,
		observationID, verifiedAt, confidence)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	if !fullyVerified {
		return nil
	}
	_, err = d.pool.Exec(ctx, `
		UPDATE exchanges SET fully_verified = TRUE WHERE observation_id = $1`, observationID)
	return err
}

func scanObserver(row pgx.Row) (model.Observer, error) {
	var obs model.Observer
	err := row.Scan(&obs.ID, &obs.Kind, &obs.DeviceID, &obs.Email,
		&obs.BaseAddress, &obs.MuxedAddress, &obs.Active, &obs.CreatedAt)
	return obs, err
}

func scanObservation(row pgx.Row) (model.Observation, error) {
	var (
		o        model.Observation
		readings []byte
		location []byte
	)
	err := row.Scan(&o.ID, &o.ObserverID, &readings, &location,
		&o.CapturedAt, &o.QualityScore, &o.VerifiedAt, &o.VerifiedConfidence)
	if err != nil {
		return model.Observation{}, err
	}
	if err := json.Unmarshal(readings, &o.Readings); err != nil {
		return model.Observation{}, fmt.Errorf("postgres: decode readings: %w", err)
	}
	if len(location) > 0 {
		o.Location = new(model.Coordinates)
		if err := json.Unmarshal(location, o.Location); err != nil {
			return model.Observation{}, fmt.Errorf("postgres: decode location: %w", err)
		}
	}
	return o, nil
}

func scanExchange(row pgx.Row) (model.Exchange, error) {
	var (
		x      model.Exchange
		amount string
	)
	err := row.Scan(&x.ID, &x.ObservationID, &x.ObserverID, &amount,
		&x.ContentRef, &x.LedgerRef, &x.MuxedAddress, &x.FullyVerified, &x.CreatedAt)
	if err != nil {
		return model.Exchange{}, err
	}
	if x.Amount, err = decimal.NewFromString(amount); err != nil {
		return model.Exchange{}, fmt.Errorf("postgres: decode amount %q: %w", amount, err)
	}
	return x, nil
}

// mapErr folds pgx errors into the store sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return store.ErrDuplicate
	}
	return err
}
