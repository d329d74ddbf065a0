package server

import (
	"net"
	"testing"
	"time"

	"testexec/internal/job"
	"testexec/internal/resourcepool"
	"testexec/internal/resourcepool/client"
)

func startTestServer(t *testing.T) (*resourcepool.Pool, *client.Client) {
	t.Helper()
	pool := resourcepool.New()
	pool.Populate("cpus", 4)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := New(pool)
	go srv.Serve(ln)
	t.Cleanup(func() { ln.Close() })

	addr := resourcepool.Addr{Network: "tcp", Address: ln.Addr().String()}
	c := client.New(addr)
	c.Timeout = 2 * time.Second
	return pool, c
}

func TestServer_TypesAndCount(t *testing.T) {
	_, c := startTestServer(t)

	types, err := c.Types()
	if err != nil {
		t.Fatalf("Types: %v", err)
	}
	found := false
	for _, ty := range types {
		if ty == "cpus" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected cpus in %v", types)
	}

	count, err := c.Count("cpus")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 4 {
		t.Fatalf("count = %d, want 4", count)
	}
}

func TestServer_AccommodatesAndCheckoutCheckin(t *testing.T) {
	_, c := startTestServer(t)

	res, err := c.Accommodates(job.ResourceRequest{{"cpus": 2}})
	if err != nil {
		t.Fatalf("Accommodates: %v", err)
	}
	if !res.Ok {
		t.Fatalf("expected accommodates ok, got %+v", res)
	}

	acq, err := c.Checkout(job.ResourceRequest{{"cpus": 2}})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if len(acq) != 1 {
		t.Fatalf("acquired groups = %d, want 1", len(acq))
	}

	if count, _ := c.Count("cpus"); count != 2 {
		t.Fatalf("count after checkout = %d, want 2", count)
	}

	if err := c.Checkin(acq); err != nil {
		t.Fatalf("Checkin: %v", err)
	}
	if count, _ := c.Count("cpus"); count != 4 {
		t.Fatalf("count after checkin = %d, want 4", count)
	}
}

func TestServer_CheckoutUnavailable_Returns404(t *testing.T) {
	_, c := startTestServer(t)

	_, err := c.Checkout(job.ResourceRequest{{"cpus": 99}})
	if err != resourcepool.ErrUnavailable {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}
}
