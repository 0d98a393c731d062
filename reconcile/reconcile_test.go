package reconcile_test

import (
	"context"
	"testing"

	"github.com/stellar/go/strkey"

	"ubec.eco/reciprocity/contentstore/testkit"
	"ubec.eco/reciprocity/ledger/ledgertest"
	"ubec.eco/reciprocity/pipeline"
	"ubec.eco/reciprocity/reconcile"
	"ubec.eco/reciprocity/store/memstore"
)

func testBase(t *testing.T) string {
	t.Helper()
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	base, err := strkey.Encode(strkey.VersionByteAccountID, raw)
	if err != nil {
		t.Fatalf("strkey.Encode: %v", err)
	}
	return base
}

func readings() map[string]float64 {
	return map[string]float64{
		"temperature": 22.5,
		"humidity":    55,
		"ph":          6.8,
	}
}

func TestRunSettlesSkippedPayments(t *testing.T) {
	st := memstore.New()
	cas := testkit.NewMemCAS()
	lg := ledgertest.New()
	ctx := context.Background()

	// Ingest while the ledger is down, then bring it back.
	lg.FailPays = true
	p := pipeline.New(st, cas, lg)
	res, err := p.Process(ctx, pipeline.Submission{
		DeviceID:    "GH-0042",
		BaseAddress: testBase(t),
		Readings:    readings(),
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.LedgerRef != nil || !res.RewardAmount.IsZero() {
		t.Fatalf("payment unexpectedly recorded: %+v", res)
	}
	lg.FailPays = false

	report, err := reconcile.New(st, cas, lg).Run(ctx, 10)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Examined != 1 || report.Settled != 1 || report.Annotated != 1 {
		t.Fatalf("report %+v, want 1/1/1", report)
	}
	if len(report.Failures) != 0 {
		t.Fatalf("unexpected failures %v", report.Failures)
	}

	x, err := st.GetExchange(ctx, res.ObservationID)
	if err != nil {
		t.Fatalf("GetExchange: %v", err)
	}
	if x.LedgerRef == nil || x.Amount.IsZero() {
		t.Fatalf("exchange not settled: %+v", x)
	}
	tx, err := lg.GetTransaction(ctx, *x.LedgerRef)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if !tx.Amount.Equal(x.Amount) {
		t.Fatalf("paid %s, recorded %s", tx.Amount, x.Amount)
	}
	if want := pipeline.Memo(res.ObservationID); tx.Memo != want {
		t.Fatalf("memo %q, want %q", tx.Memo, want)
	}

	o, _ := st.GetObservation(ctx, res.ObservationID)
	if o.VerifiedAt == nil || o.VerifiedConfidence != 1.0 {
		t.Fatalf("annotation missing after settlement: %+v", o)
	}
}

func TestRunDerivesAmountWithoutPayload(t *testing.T) {
	st := memstore.New()
	cas := testkit.NewMemCAS()
	lg := ledgertest.New()
	ctx := context.Background()

	// Both legs down at ingestion time: no payload, no payment.
	cas.FailPuts = true
	lg.FailPays = true
	p := pipeline.New(st, cas, lg)
	res, err := p.Process(ctx, pipeline.Submission{
		DeviceID:    "GH-0042",
		BaseAddress: testBase(t),
		Readings:    readings(),
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	cas.FailPuts = false
	lg.FailPays = false

	report, err := reconcile.New(st, cas, lg).Run(ctx, 10)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Settled != 1 {
		t.Fatalf("report %+v, want one settlement", report)
	}
	x, _ := st.GetExchange(ctx, res.ObservationID)
	if x.Amount.IsZero() {
		t.Fatal("re-derived amount is zero")
	}
	// Without a payload the verification can only degrade.
	o, _ := st.GetObservation(ctx, res.ObservationID)
	if o.VerifiedAt == nil || o.VerifiedConfidence != 0 {
		t.Fatalf("annotation %+v, want fatal-content confidence 0", o)
	}
	if x.FullyVerified {
		t.Fatal("payload-less exchange flagged fully verified")
	}
}

func TestRunLedgerStillDown(t *testing.T) {
	st := memstore.New()
	cas := testkit.NewMemCAS()
	lg := ledgertest.New()
	ctx := context.Background()

	lg.FailPays = true
	p := pipeline.New(st, cas, lg)
	if _, err := p.Process(ctx, pipeline.Submission{
		DeviceID:    "GH-0042",
		BaseAddress: testBase(t),
		Readings:    readings(),
	}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	report, err := reconcile.New(st, cas, lg).Run(ctx, 10)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Settled != 0 || len(report.Failures) != 1 {
		t.Fatalf("report %+v, want zero settlements and one failure", report)
	}
	// The exchange must still surface on the next pass.
	pending, _ := st.UnsettledExchanges(ctx, 10)
	if len(pending) != 1 {
		t.Fatalf("%d pending, want 1", len(pending))
	}
}

func TestRunNothingPending(t *testing.T) {
	st := memstore.New()
	report, err := reconcile.New(st, testkit.NewMemCAS(), ledgertest.New()).Run(context.Background(), 10)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Examined != 0 || report.Settled != 0 {
		t.Fatalf("report %+v, want empty", report)
	}
}
