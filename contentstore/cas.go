package contentstore

import (
	"context"

	"github.com/ipfs/go-cid"
)

// CAS is the content-addressable storage contract the pipeline and verifier
// depend on.
//
// Contract:
// - Put MUST be idempotent.
// - Stored objects MUST be immutable.
// - Get MUST return ErrNotFound when the reference is absent.
// - Implementations MUST honor ctx cancellation on every remote call.
//
// References returned by Put are CIDs; backends that address content with
// the repo's canonical codec (CIDv1 raw + sha2-256) additionally guarantee
// that the reference can be recomputed from the bytes, which the verifier's
// tamper check exploits.
type CAS interface {
	Put(ctx context.Context, bytes []byte) (cid.Cid, error)
	Get(ctx context.Context, id cid.Cid) ([]byte, error)
	Has(ctx context.Context, id cid.Cid) bool
}
