package grpccas_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"ubec.eco/reciprocity/cidutil"
	"ubec.eco/reciprocity/contentstore"
	"ubec.eco/reciprocity/contentstore/grpccas"
	"ubec.eco/reciprocity/contentstore/testkit"
)

func startServer(t *testing.T, backend contentstore.CAS) *grpc.ClientConn {
	return startService(t, grpccas.NewServer(backend))
}

func startService(t *testing.T, svc grpccas.CASServer) *grpc.ClientConn {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	grpccas.RegisterCASServer(srv, svc)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestClientConformance(t *testing.T) {
	testkit.RunCASConformance(t, func(t *testing.T) contentstore.CAS {
		return grpccas.NewClient(startServer(t, testkit.NewMemCAS()))
	})
}

func TestSentinelsSurviveWire(t *testing.T) {
	backend := testkit.NewMemCAS()
	client := grpccas.NewClient(startServer(t, backend))
	ctx := context.Background()

	id, err := client.Put(ctx, []byte("sensor batch"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	missing, err := cidutil.PayloadCID([]byte("never stored"))
	if err != nil {
		t.Fatalf("PayloadCID: %v", err)
	}
	if _, err := client.Get(ctx, missing); !errors.Is(err, contentstore.ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}

	backend.FailGets = true
	if _, err := client.Get(ctx, id); !errors.Is(err, contentstore.ErrUnavailable) {
		t.Errorf("Get with failing backend = %v, want ErrUnavailable", err)
	}
	if client.Has(ctx, id) {
		t.Error("Has reported true against a failing backend")
	}
}

// deadlineServer records whether the incoming call carried a deadline.
type deadlineServer struct {
	grpccas.UnimplementedCASServer

	mu          sync.Mutex
	sawDeadline bool
}

func (s *deadlineServer) Has(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	_, ok := ctx.Deadline()
	s.mu.Lock()
	s.sawDeadline = ok
	s.mu.Unlock()
	return wrapperspb.Bool(false), nil
}

func TestStubsApplyDefaultDeadline(t *testing.T) {
	svc := &deadlineServer{}
	client := grpccas.NewClient(startService(t, svc))

	id, err := cidutil.PayloadCID([]byte("deadline check"))
	if err != nil {
		t.Fatalf("PayloadCID: %v", err)
	}
	client.Has(context.Background(), id)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if !svc.sawDeadline {
		t.Fatal("call without a caller deadline reached the server without one")
	}
}
