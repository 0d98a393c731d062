package localfs

import (
	"context"
	"os"
	"testing"

	"ubec.eco/reciprocity/cidutil"
	"ubec.eco/reciprocity/contentstore"
	"ubec.eco/reciprocity/contentstore/testkit"
)

func TestLocalFS_Conformance(t *testing.T) {
	testkit.RunCASConformance(t, func(t *testing.T) contentstore.CAS {
		t.Helper()
		cas, err := New(t.TempDir())
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		return cas
	})
}

func TestLocalFS_RejectMutationByOverwrite(t *testing.T) {
	ctx := context.Background()
	cas, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	orig := []byte(`{"observation_id":"x"}`)
	id, err := cas.Put(ctx, orig)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Corrupt the stored object out-of-band.
	path := cas.pathFor(id)
	if err := os.Chmod(path, 0o644); err != nil {
		t.Fatalf("Chmod failed: %v", err)
	}
	if err := os.WriteFile(path, []byte("corrupted"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	// Get must detect the hash mismatch.
	if _, err := cas.Get(ctx, id); err != contentstore.ErrCIDMismatch {
		t.Fatalf("Get mismatch: got %v want %v", err, contentstore.ErrCIDMismatch)
	}

	// Put must not "repair" or overwrite the corrupted object.
	if _, err := cas.Put(ctx, orig); err != contentstore.ErrImmutable {
		t.Fatalf("Put after corruption: got %v want %v", err, contentstore.ErrImmutable)
	}

	// Sanity: the CID is still the CID of the original bytes.
	wantID, err := cidutil.PayloadCID(orig)
	if err != nil {
		t.Fatalf("PayloadCID failed: %v", err)
	}
	if id != wantID {
		t.Fatalf("unexpected CID: got %s want %s", id, wantID)
	}
}
