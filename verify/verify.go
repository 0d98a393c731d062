// Package verify independently re-checks recorded observations against
// the content store and the ledger. It holds no database access; callers
// hand it the references and it reports a verdict.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"ubec.eco/reciprocity/cidutil"
	"ubec.eco/reciprocity/contentstore"
	"ubec.eco/reciprocity/ledger"
	"ubec.eco/reciprocity/model"
)

// Check names, stable for consumers that branch on them.
const (
	CheckContentResolves    = "content_resolves"
	CheckContentIntact      = "content_intact"
	CheckPayloadMatches     = "payload_matches"
	CheckLedgerResolves     = "ledger_resolves"
	CheckAmountMatches      = "amount_matches"
	CheckMemoMatches        = "memo_matches"
	CheckTimestampsAgree    = "timestamps_agree"
	CheckTimestampPlausible = "timestamp_plausible"
)

// Confidence multipliers applied per failed check. Content failures are
// fatal; the rest degrade trust multiplicatively.
const (
	factorContent   = 0.0
	factorLedger    = 0.5
	factorCross     = 0.7
	factorTimestamp = 0.9
)

// validThreshold is the confidence a result must exceed to be valid.
const validThreshold = 0.8

// clockSkew is how far in the future a recorded timestamp may sit before
// the timestamp check fails.
const clockSkew = 5 * time.Minute

// maxLedgerDrift is the widest gap tolerated between the payload's
// recorded time and the ledger transaction's timestamp. Payments go out
// during ingestion, so the two should land within minutes of each other.
const maxLedgerDrift = 5 * time.Minute

// amountTolerance absorbs sub-cent representation differences between
// the declared reward and the amount the ledger settled.
var amountTolerance = decimal.New(1, -2)

// DefaultBatchLimit bounds concurrent verifications in VerifyBatch.
const DefaultBatchLimit = 8

// Target names one observation to verify.
type Target struct {
	ObservationID string
	ContentRef    *string
	LedgerRef     *string
}

// Verifier re-derives trust in recorded observations.
type Verifier struct {
	cas        contentstore.CAS
	ledger     ledger.Ledger
	log        zerolog.Logger
	now        func() time.Time
	batchLimit int
}

// Option configures a Verifier.
type Option func(*Verifier)

func WithLogger(log zerolog.Logger) Option { return func(v *Verifier) { v.log = log } }

func WithClock(now func() time.Time) Option { return func(v *Verifier) { v.now = now } }

// WithBatchLimit caps concurrent verifications in VerifyBatch.
func WithBatchLimit(n int) Option { return func(v *Verifier) { v.batchLimit = n } }

func New(cas contentstore.CAS, lg ledger.Ledger, opts ...Option) *Verifier {
	v := &Verifier{
		cas:        cas,
		ledger:     lg,
		log:        zerolog.Nop(),
		now:        func() time.Time { return time.Now().UTC() },
		batchLimit: DefaultBatchLimit,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify runs every applicable check for one observation.
//
// Confidence starts at 1.0 and is multiplied by a check's factor each
// time that check fails. A failed content check is fatal: the result can
// never be valid regardless of the remaining checks. An error is only
// returned for malformed input, never for failed checks.
func (v *Verifier) Verify(ctx context.Context, target Target) (model.VerificationResult, error) {
	if target.ObservationID == "" {
		return model.VerificationResult{}, model.NewError(model.ErrInvalidInput, "empty observation id")
	}

	res := model.VerificationResult{
		ObservationID: target.ObservationID,
		Confidence:    1.0,
		VerifiedAt:    v.now(),
	}

	payload := v.checkContent(ctx, target, &res)
	tx := v.checkLedger(ctx, target, &res)
	v.crossCheck(payload, tx, target.ObservationID, &res)
	v.checkTimestamp(payload, tx, &res)

	fatal := false
	for _, c := range res.Checks {
		if c.Fatal && !c.Passed {
			fatal = true
			break
		}
	}
	res.Valid = !fatal && res.Confidence > validThreshold

	v.log.Debug().
		Str("observation", target.ObservationID).
		Bool("valid", res.Valid).
		Float64("confidence", res.Confidence).
		Strs("failures", res.Failures).
		Msg("verification complete")
	return res, nil
}

// VerifyBatch verifies targets concurrently and keys the results by
// observation id. Failures are isolated per target; one malformed entry
// does not stop the rest.
func (v *Verifier) VerifyBatch(ctx context.Context, targets []Target) map[string]model.VerificationResult {
	results := make([]model.VerificationResult, len(targets))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(v.batchLimit)
	for i, target := range targets {
		i, target := i, target
		g.Go(func() error {
			res, err := v.Verify(ctx, target)
			if err != nil {
				res = model.VerificationResult{
					ObservationID: target.ObservationID,
					Confidence:    0,
					Failures:      []string{err.Error()},
					VerifiedAt:    v.now(),
				}
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	byID := make(map[string]model.VerificationResult, len(results))
	for _, res := range results {
		byID[res.ObservationID] = res
	}
	return byID
}

func (v *Verifier) fail(res *model.VerificationResult, name, detail string, fatal bool, factor float64) {
	res.Checks = append(res.Checks, model.CheckResult{Name: name, Fatal: fatal, Detail: detail})
	res.Failures = append(res.Failures, name)
	res.Confidence *= factor
}

func (v *Verifier) pass(res *model.VerificationResult, name string) {
	res.Checks = append(res.Checks, model.CheckResult{Name: name, Passed: true})
}

// checkContent fetches and decodes the observation payload. A missing
// reference, an unresolvable CID or a payload naming a different
// observation all fail fatally.
func (v *Verifier) checkContent(ctx context.Context, target Target, res *model.VerificationResult) *model.ObservationPayload {
	if target.ContentRef == nil || *target.ContentRef == "" {
		v.fail(res, CheckContentResolves, "no content reference recorded", true, factorContent)
		return nil
	}
	if v.cas == nil {
		v.fail(res, CheckContentResolves, "no content store configured", true, factorContent)
		return nil
	}
	contentID, err := cidutil.Parse(*target.ContentRef)
	if err != nil {
		v.fail(res, CheckContentResolves, fmt.Sprintf("bad reference %q: %v", *target.ContentRef, err), true, factorContent)
		return nil
	}
	data, err := v.cas.Get(ctx, contentID)
	if err != nil {
		v.fail(res, CheckContentResolves, fmt.Sprintf("fetch %s: %v", *target.ContentRef, err), true, factorContent)
		return nil
	}
	v.pass(res, CheckContentResolves)

	// Re-hash canonical references against the fetched bytes. References
	// minted by external pinning services use other codecs and carry
	// integrity in their own addressing scheme.
	if cidutil.IsRawSHA256(contentID) {
		sum, err := cidutil.PayloadCID(data)
		if err != nil || !sum.Equals(contentID) {
			v.fail(res, CheckContentIntact, "stored bytes do not hash to the reference", true, factorContent)
			return nil
		}
	}
	v.pass(res, CheckContentIntact)

	var payload model.ObservationPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		v.fail(res, CheckPayloadMatches, fmt.Sprintf("decode payload: %v", err), true, factorContent)
		return nil
	}
	if payload.ObservationID != target.ObservationID {
		v.fail(res, CheckPayloadMatches,
			fmt.Sprintf("payload names observation %s", payload.ObservationID), true, factorContent)
		return nil
	}
	v.pass(res, CheckPayloadMatches)
	return &payload
}

// checkLedger resolves the payment transaction. A missing reference or a
// failed transaction degrades confidence but is not fatal: an observation
// can be real without having been paid yet.
func (v *Verifier) checkLedger(ctx context.Context, target Target, res *model.VerificationResult) *ledger.Transaction {
	if target.LedgerRef == nil || *target.LedgerRef == "" {
		v.fail(res, CheckLedgerResolves, "no ledger reference recorded", false, factorLedger)
		return nil
	}
	if v.ledger == nil {
		v.fail(res, CheckLedgerResolves, "no ledger configured", false, factorLedger)
		return nil
	}
	tx, err := v.ledger.GetTransaction(ctx, *target.LedgerRef)
	if err != nil {
		v.fail(res, CheckLedgerResolves, fmt.Sprintf("fetch %s: %v", *target.LedgerRef, err), false, factorLedger)
		return nil
	}
	if !tx.Successful {
		v.fail(res, CheckLedgerResolves, "transaction exists but failed", false, factorLedger)
		return nil
	}
	v.pass(res, CheckLedgerResolves)
	return &tx
}

// crossCheck compares what the payload declares against what the ledger
// actually paid. Skipped when either side is unavailable.
func (v *Verifier) crossCheck(payload *model.ObservationPayload, tx *ledger.Transaction, observationID string, res *model.VerificationResult) {
	if payload == nil || tx == nil {
		return
	}
	declared, err := decimal.NewFromString(payload.RewardAmount)
	if err != nil || declared.Sub(tx.Amount).Abs().GreaterThan(amountTolerance) {
		v.fail(res, CheckAmountMatches,
			fmt.Sprintf("payload declares %q, ledger paid %s", payload.RewardAmount, tx.Amount), false, factorCross)
	} else {
		v.pass(res, CheckAmountMatches)
	}

	wantFragment := "obs:" + shortID(observationID)
	if !strings.Contains(tx.Memo, wantFragment) {
		v.fail(res, CheckMemoMatches,
			fmt.Sprintf("memo %q does not reference the observation", tx.Memo), false, factorCross)
	} else {
		v.pass(res, CheckMemoMatches)
	}

	drift := payload.RecordedAt.Sub(tx.Timestamp)
	if drift < 0 {
		drift = -drift
	}
	if drift > maxLedgerDrift {
		v.fail(res, CheckTimestampsAgree,
			fmt.Sprintf("payload recorded %s but payment landed %s",
				payload.RecordedAt.Format(time.RFC3339), tx.Timestamp.Format(time.RFC3339)), false, factorCross)
	} else {
		v.pass(res, CheckTimestampsAgree)
	}
}

// checkTimestamp rejects payload or transaction timestamps that sit in
// the future, beyond a small skew allowance. Skipped only when neither
// side is available.
func (v *Verifier) checkTimestamp(payload *model.ObservationPayload, tx *ledger.Transaction, res *model.VerificationResult) {
	if payload == nil && tx == nil {
		return
	}
	limit := v.now().Add(clockSkew)
	if payload != nil && payload.RecordedAt.After(limit) {
		v.fail(res, CheckTimestampPlausible,
			fmt.Sprintf("recorded at %s is in the future", payload.RecordedAt.Format(time.RFC3339)), false, factorTimestamp)
		return
	}
	if tx != nil && tx.Timestamp.After(limit) {
		v.fail(res, CheckTimestampPlausible,
			fmt.Sprintf("payment timestamp %s is in the future", tx.Timestamp.Format(time.RFC3339)), false, factorTimestamp)
		return
	}
	v.pass(res, CheckTimestampPlausible)
}

func shortID(id string) string {
	if len(id) < 8 {
		return id
	}
	return id[:8]
}
