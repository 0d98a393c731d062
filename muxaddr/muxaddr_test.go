package muxaddr

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stellar/go/strkey"
)

func testBase(t *testing.T, fill byte) string {
	t.Helper()
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = fill
	}
	addr, err := strkey.Encode(strkey.VersionByteAccountID, raw)
	if err != nil {
		t.Fatalf("encode base: %v", err)
	}
	return addr
}

func TestDeriveDeterministic(t *testing.T) {
	base := testBase(t, 0x01)
	a, err := Derive(base, "SB2024001234")
	if err != nil {
		t.Fatalf("Derive(1): %v", err)
	}
	b, err := Derive(base, "SB2024001234")
	if err != nil {
		t.Fatalf("Derive(2): %v", err)
	}
	if a != b {
		t.Fatalf("Derive not deterministic: %s vs %s", a, b)
	}
	if !IsMuxedFormat(a) {
		t.Fatalf("derived address %s not in muxed format", a)
	}
}

func TestResolveRoundTrip(t *testing.T) {
	base := testBase(t, 0x02)
	const device = "SB2024001234"

	muxed, err := Derive(base, device)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	gotBase, gotSub, err := Resolve(muxed)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if gotBase != base {
		t.Fatalf("base round trip: got %s want %s", gotBase, base)
	}

	sum := sha256.Sum256([]byte(device))
	want := binary.BigEndian.Uint64(sum[:8])
	if gotSub != want {
		t.Fatalf("sub id: got %d want %d", gotSub, want)
	}
	if SubID(device) != want {
		t.Fatalf("SubID: got %d want %d", SubID(device), want)
	}
}

func TestDeriveTrimsDeviceID(t *testing.T) {
	base := testBase(t, 0x03)
	a, err := Derive(base, "DEV42")
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	b, err := Derive(base, "  DEV42\n")
	if err != nil {
		t.Fatalf("Derive trimmed: %v", err)
	}
	if a != b {
		t.Fatalf("whitespace changed derivation: %s vs %s", a, b)
	}
}

func TestDeriveRejectsBadInput(t *testing.T) {
	base := testBase(t, 0x04)
	cases := []struct {
		name    string
		base    string
		device  string
		wantErr error
	}{
		{"empty base", "", "DEV1", ErrInvalidBaseAddress},
		{"garbage base", "NOTANADDRESS", "DEV1", ErrInvalidBaseAddress},
		{"muxed as base", mustDerive(base, "DEV1"), "DEV1", ErrInvalidBaseAddress},
		{"empty device", base, "", ErrInvalidDeviceID},
		{"whitespace device", base, "   ", ErrInvalidDeviceID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Derive(tc.base, tc.device)
			if err != tc.wantErr {
				t.Fatalf("got err=%v want %v", err, tc.wantErr)
			}
		})
	}
}

func mustDerive(base, device string) string {
	m, err := Derive(base, device)
	if err != nil {
		panic(err)
	}
	return m
}

func TestResolveRejectsNonMuxed(t *testing.T) {
	base := testBase(t, 0x05)
	for _, in := range []string{"", "   ", base, "MINVALID"} {
		if _, _, err := Resolve(in); err != ErrInvalidAddress {
			t.Fatalf("Resolve(%q): got err=%v want ErrInvalidAddress", in, err)
		}
	}
}

func TestVerify(t *testing.T) {
	base := testBase(t, 0x06)
	other := testBase(t, 0x07)
	muxed := mustDerive(base, "SB2024001234")

	if !Verify(muxed, base, "SB2024001234") {
		t.Fatal("Verify rejected a correct triple")
	}
	if Verify(muxed, base, "WRONG_ID") {
		t.Fatal("Verify accepted the wrong device id")
	}
	if Verify(muxed, other, "SB2024001234") {
		t.Fatal("Verify accepted the wrong base")
	}
	if Verify("not-an-address", base, "SB2024001234") {
		t.Fatal("Verify accepted an undecodable address")
	}
}

func TestUniquenessOverSample(t *testing.T) {
	base := testBase(t, 0x08)
	seen := make(map[string]string, 512)
	for i := 0; i < 512; i++ {
		device := fmt.Sprintf("SB2024%06d", i)
		muxed := mustDerive(base, device)
		if prev, ok := seen[muxed]; ok {
			t.Fatalf("collision: %s and %s both derive %s", prev, device, muxed)
		}
		seen[muxed] = device
	}
}

func TestReverseLookup(t *testing.T) {
	base := testBase(t, 0x09)
	registry := map[string]string{
		"SB2024001234": base,
		"SB2024005678": base,
		"OTHER-DEVICE": testBase(t, 0x0a),
	}

	muxed := mustDerive(base, "SB2024005678")
	device, ok := ReverseLookup(muxed, registry)
	if !ok || device != "SB2024005678" {
		t.Fatalf("ReverseLookup: got (%q, %v) want (SB2024005678, true)", device, ok)
	}

	unknown := mustDerive(base, "UNREGISTERED")
	if _, ok := ReverseLookup(unknown, registry); ok {
		t.Fatal("ReverseLookup found an unregistered device")
	}
	if _, ok := ReverseLookup("garbage", registry); ok {
		t.Fatal("ReverseLookup accepted an undecodable address")
	}
}

func TestInspect(t *testing.T) {
	base := testBase(t, 0x0b)
	muxed := mustDerive(base, "DEV1")

	info := Inspect(muxed)
	if !info.Valid || info.BaseAddress != base || info.SubID != SubID("DEV1") {
		t.Fatalf("Inspect: unexpected %+v", info)
	}
	if bad := Inspect("nope"); bad.Valid {
		t.Fatalf("Inspect accepted invalid address: %+v", bad)
	}
}
