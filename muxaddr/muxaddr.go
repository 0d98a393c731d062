// Package muxaddr derives deterministic per-device sub-addresses from a
// single base ledger account.
//
// A sub-address embeds the base account's ed25519 key plus a 64-bit
// sub-identifier computed as the first 8 bytes of SHA-256(deviceID),
// interpreted big-endian. The scheme is stateless and needs no network
// access: the same (base, device) pair always yields the same sub-address,
// and decoding a sub-address losslessly recovers the base address.
//
// Wire compatibility: the 8-byte truncation and byte order are fixed.
// Changing either would orphan every address derived by other
// implementations of this scheme.
package muxaddr

import (
	"crypto/sha256"
	"encoding/binary"
	"strings"

	"github.com/stellar/go/strkey"
)

const subIDSize = 8

// SubID returns the numeric sub-identifier for a device id.
//
// The device id is trimmed before hashing; callers must not pre-encode it.
func SubID(deviceID string) uint64 {
	sum := sha256.Sum256([]byte(strings.TrimSpace(deviceID)))
	return binary.BigEndian.Uint64(sum[:subIDSize])
}

// Derive returns the sub-address for deviceID under baseAddress.
//
// Fails with ErrInvalidBaseAddress when baseAddress does not decode as an
// ed25519 account key, and ErrInvalidDeviceID when deviceID is empty after
// trimming.
func Derive(baseAddress, deviceID string) (string, error) {
	base := strings.TrimSpace(baseAddress)
	if base == "" {
		return "", ErrInvalidBaseAddress
	}
	raw, err := strkey.Decode(strkey.VersionByteAccountID, base)
	if err != nil || len(raw) != 32 {
		return "", ErrInvalidBaseAddress
	}
	if strings.TrimSpace(deviceID) == "" {
		return "", ErrInvalidDeviceID
	}

	payload := make([]byte, 32+subIDSize)
	copy(payload, raw)
	binary.BigEndian.PutUint64(payload[32:], SubID(deviceID))

	muxed, err := strkey.Encode(strkey.VersionByteMuxedAccount, payload)
	if err != nil {
		return "", ErrInvalidBaseAddress
	}
	return muxed, nil
}

// Resolve decodes a sub-address into its base address and sub-identifier.
func Resolve(subAddress string) (baseAddress string, subID uint64, err error) {
	addr := strings.TrimSpace(subAddress)
	if addr == "" {
		return "", 0, ErrInvalidAddress
	}
	payload, err := strkey.Decode(strkey.VersionByteMuxedAccount, addr)
	if err != nil || len(payload) != 32+subIDSize {
		return "", 0, ErrInvalidAddress
	}
	base, err := strkey.Encode(strkey.VersionByteAccountID, payload[:32])
	if err != nil {
		return "", 0, ErrInvalidAddress
	}
	return base, binary.BigEndian.Uint64(payload[32:]), nil
}

// Verify reports whether subAddress was derived from expectedBase and
// deviceID. It never panics and returns false on any decode failure.
func Verify(subAddress, expectedBase, deviceID string) bool {
	base, subID, err := Resolve(subAddress)
	if err != nil {
		return false
	}
	if base != strings.TrimSpace(expectedBase) {
		return false
	}
	return subID == SubID(deviceID)
}

// ReverseLookup identifies the device a sub-address was derived for, given a
// registry of deviceID -> baseAddress. It recomputes each candidate's
// expected sub-identifier; the scan is linear in the registry size.
func ReverseLookup(subAddress string, registry map[string]string) (deviceID string, found bool) {
	base, subID, err := Resolve(subAddress)
	if err != nil {
		return "", false
	}
	for id, candidateBase := range registry {
		if strings.TrimSpace(candidateBase) != base {
			continue
		}
		if SubID(id) == subID {
			return id, true
		}
	}
	return "", false
}

// IsMuxedFormat is a cheap format check: sub-addresses strkey-encode with a
// leading 'M'. It does not validate the address; use Resolve for that.
func IsMuxedFormat(address string) bool {
	return strings.HasPrefix(strings.TrimSpace(address), "M")
}

// Info is a structured inspection of a sub-address, convenient for
// diagnostics and CLI output.
type Info struct {
	SubAddress  string `json:"subAddress"`
	BaseAddress string `json:"baseAddress"`
	SubID       uint64 `json:"subID"`
	Valid       bool   `json:"valid"`
}

// Inspect never fails; invalid addresses yield Info{Valid: false}.
func Inspect(subAddress string) Info {
	base, subID, err := Resolve(subAddress)
	if err != nil {
		return Info{SubAddress: subAddress}
	}
	return Info{SubAddress: subAddress, BaseAddress: base, SubID: subID, Valid: true}
}
