package pinata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"ubec.eco/reciprocity/cidutil"
	"ubec.eco/reciprocity/contentstore"
	"ubec.eco/reciprocity/contentstore/testkit"
)

// fakePinata emulates the two Pinata endpoints the adapter touches.
type fakePinata struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakePinata) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/pinning/pinJSONToIPFS", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" && r.Header.Get("pinata_api_key") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body struct {
			PinataContent json.RawMessage `json:"pinataContent"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		id, err := cidutil.PayloadCID(body.PinataContent)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		f.mu.Lock()
		f.objects[id.String()] = body.PinataContent
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"IpfsHash": id.String()})
	})
	mux.HandleFunc("/ipfs/", func(w http.ResponseWriter, r *http.Request) {
		ref := strings.TrimPrefix(r.URL.Path, "/ipfs/")
		f.mu.Lock()
		b, ok := f.objects[ref]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write(b)
	})
	return mux
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	fake := &fakePinata{objects: make(map[string][]byte)}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	c, err := New(Options{
		JWT:        "test-jwt",
		APIURL:     srv.URL,
		GatewayURL: srv.URL,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestPinata_Conformance(t *testing.T) {
	testkit.RunCASConformance(t, func(t *testing.T) contentstore.CAS {
		t.Helper()
		return newTestClient(t)
	})
}

func TestPinata_RequiresCredentials(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("New accepted empty credentials")
	}
	if _, err := New(Options{APIKey: "k"}); err == nil {
		t.Fatal("New accepted a key without its secret")
	}
	if _, err := New(Options{APIKey: "k", SecretKey: "s"}); err != nil {
		t.Fatalf("New rejected key pair: %v", err)
	}
}

func TestPinata_PutRejectsNonJSON(t *testing.T) {
	c := newTestClient(t)
	if _, err := c.Put(context.Background(), []byte("not json")); err == nil {
		t.Fatal("Put accepted non-JSON payload")
	}
}

func TestPinata_UnreachableIsUnavailable(t *testing.T) {
	c, err := New(Options{
		JWT:        "test-jwt",
		APIURL:     "http://127.0.0.1:1", // nothing listens here
		GatewayURL: "http://127.0.0.1:1",
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_, err = c.Put(context.Background(), []byte(`{"k":"v"}`))
	if !contentstore.IsUnavailable(err) {
		t.Fatalf("Put: got err=%v want ErrUnavailable", err)
	}
	id, err := cidutil.PayloadCID([]byte(`{"k":"v"}`))
	if err != nil {
		t.Fatalf("PayloadCID: %v", err)
	}
	if _, err := c.Get(context.Background(), id); !contentstore.IsUnavailable(err) {
		t.Fatalf("Get: got err=%v want ErrUnavailable", err)
	}
}
