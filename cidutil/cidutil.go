// Package cidutil fixes the content-reference contract for stored payloads:
// CIDv1, "raw" multicodec, sha2-256 multihash.
//
// Every locally written observation payload is addressed this way; external
// pinning services may return other codecs, which callers must treat as
// opaque references (see contentstore/pinata).
package cidutil

import (
	"errors"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// ErrUndefined is returned by Parse for references that decode to the
// undefined CID.
var ErrUndefined = errors.New("cidutil: undefined cid")

// PayloadCID returns the CIDv1 (raw + sha2-256) for payload bytes.
func PayloadCID(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// PayloadCIDString returns the string form of PayloadCID, or "" on error.
func PayloadCIDString(data []byte) string {
	id, err := PayloadCID(data)
	if err != nil {
		// multihash.Sum only errors for invalid inputs; with SHA2_256 and -1
		// length this should be unreachable.
		return ""
	}
	return id.String()
}

// Parse decodes a content reference and rejects the undefined CID.
func Parse(ref string) (cid.Cid, error) {
	id, err := cid.Decode(ref)
	if err != nil {
		return cid.Undef, err
	}
	if !id.Defined() {
		return cid.Undef, ErrUndefined
	}
	return id, nil
}

// IsRawSHA256 reports whether ref uses this repo's canonical codec, meaning
// payload bytes can be re-hashed and compared against it.
func IsRawSHA256(id cid.Cid) bool {
	if !id.Defined() || id.Version() != 1 || id.Type() != cid.Raw {
		return false
	}
	dec, err := multihash.Decode(id.Hash())
	if err != nil {
		return false
	}
	return dec.Code == multihash.SHA2_256
}
