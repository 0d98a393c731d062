// Package testkit provides an in-memory CAS fake and a conformance suite
// shared by every content store backend.
package testkit

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/ipfs/go-cid"

	"ubec.eco/reciprocity/cidutil"
	"ubec.eco/reciprocity/contentstore"
)

// MemCAS is an in-memory content store for tests.
//
// FailPuts / FailGets inject contentstore.ErrUnavailable to exercise the
// pipeline's best-effort legs. Safe for concurrent use.
type MemCAS struct {
	mu       sync.Mutex
	objects  map[cid.Cid][]byte
	FailPuts bool
	FailGets bool
}

var _ contentstore.CAS = (*MemCAS)(nil)

func NewMemCAS() *MemCAS {
	return &MemCAS{objects: make(map[cid.Cid][]byte)}
}

func (m *MemCAS) Put(ctx context.Context, b []byte) (cid.Cid, error) {
	if err := ctx.Err(); err != nil {
		return cid.Undef, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPuts {
		return cid.Undef, contentstore.ErrUnavailable
	}
	id, err := cidutil.PayloadCID(b)
	if err != nil {
		return cid.Undef, err
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	m.objects[id] = cp
	return id, nil
}

func (m *MemCAS) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailGets {
		return nil, contentstore.ErrUnavailable
	}
	if !id.Defined() {
		return nil, contentstore.ErrInvalidCID
	}
	b, ok := m.objects[id]
	if !ok {
		return nil, contentstore.ErrNotFound
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (m *MemCAS) Has(ctx context.Context, id cid.Cid) bool {
	if ctx.Err() != nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailGets {
		return false
	}
	_, ok := m.objects[id]
	return ok
}

// Corrupt replaces the stored bytes for id without changing the key,
// simulating out-of-band tampering.
func (m *MemCAS) Corrupt(id cid.Cid, b []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[id] = b
}

// NewCAS constructs a fresh, empty CAS instance for a test.
// The returned CAS MUST be isolated from other tests.
type NewCAS func(t *testing.T) contentstore.CAS

func RunCASConformance(t *testing.T, newCAS NewCAS) {
	t.Helper()
	ctx := context.Background()

	t.Run("PutGetRoundTrip", func(t *testing.T) {
		cas := newCAS(t)
		want := []byte(`{"observation_id":"roundtrip"}`)

		id, err := cas.Put(ctx, want)
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		wantID, err := cidutil.PayloadCID(want)
		if err != nil {
			t.Fatalf("PayloadCID failed: %v", err)
		}
		if id != wantID {
			t.Fatalf("Put CID mismatch: got %s want %s", id, wantID)
		}

		got, err := cas.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("Get bytes mismatch")
		}
	})

	t.Run("PutIdempotent", func(t *testing.T) {
		cas := newCAS(t)
		b := []byte("same bytes")

		id1, err := cas.Put(ctx, b)
		if err != nil {
			t.Fatalf("Put(1) failed: %v", err)
		}
		id2, err := cas.Put(ctx, b)
		if err != nil {
			t.Fatalf("Put(2) failed: %v", err)
		}
		if id1 != id2 {
			t.Fatalf("Put not idempotent: %s vs %s", id1, id2)
		}
	})

	t.Run("HasAndNotFound", func(t *testing.T) {
		cas := newCAS(t)
		b := []byte("missing")
		id, err := cidutil.PayloadCID(b)
		if err != nil {
			t.Fatalf("PayloadCID failed: %v", err)
		}

		if cas.Has(ctx, id) {
			t.Fatalf("Has returned true for missing CID")
		}
		if _, err := cas.Get(ctx, id); !contentstore.IsNotFound(err) {
			t.Fatalf("Get missing: got err=%v want ErrNotFound", err)
		}

		if _, err := cas.Put(ctx, b); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if !cas.Has(ctx, id) {
			t.Fatalf("Has returned false after Put")
		}
	})

	t.Run("RejectUndefCID", func(t *testing.T) {
		cas := newCAS(t)
		var undef cid.Cid
		if cas.Has(ctx, undef) {
			t.Fatalf("Has should be false for undefined CID")
		}
		if _, err := cas.Get(ctx, undef); err == nil {
			t.Fatalf("Get should fail for undefined CID")
		}
	})

	t.Run("HonorsCancelledContext", func(t *testing.T) {
		cas := newCAS(t)
		cancelled, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := cas.Put(cancelled, []byte("late")); err == nil {
			t.Fatalf("Put should fail under a cancelled context")
		}
	})
}
