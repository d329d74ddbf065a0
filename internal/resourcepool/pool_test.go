package resourcepool

import (
	"errors"
	"testing"

	"testexec/internal/job"
)

func TestAccommodates_EmptyPool(t *testing.T) {
	p := New()
	_, err := p.Accommodates(job.ResourceRequest{{"cpus": 1}})
	if !errors.Is(err, ErrEmptyPool) {
		t.Fatalf("got %v, want ErrEmptyPool", err)
	}
}

func TestAccommodates_UnknownType(t *testing.T) {
	p := New()
	p.Populate("cpus", 4)
	res, err := p.Accommodates(job.ResourceRequest{{"gpus": 1}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Ok {
		t.Fatalf("expected not-ok for unknown type")
	}
}

func TestAccommodates_InsufficientSlots(t *testing.T) {
	p := New()
	p.Populate("cpus", 2)
	res, err := p.Accommodates(job.ResourceRequest{{"cpus": 4}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Ok {
		t.Fatalf("expected not-ok for insufficient slots")
	}
}

func TestCheckoutCheckin_RoundTrip(t *testing.T) {
	p := New()
	p.Populate("cpus", 4)

	before := p.Count("cpus")
	acq, err := p.Checkout(job.ResourceRequest{{"cpus": 2}})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if got := p.Count("cpus"); got != before-2 {
		t.Fatalf("count after checkout = %d, want %d", got, before-2)
	}
	p.Checkin(acq)
	if got := p.Count("cpus"); got != before {
		t.Fatalf("count after checkin = %d, want %d (round trip)", got, before)
	}
}

func TestCheckout_PartialFailureRollsBackFully(t *testing.T) {
	p := New()
	p.Populate("cpus", 4)
	p.Populate("gpus", 1)

	before := p.Count("cpus")
	// First group succeeds (cpus), second group fails (gpus: need 2, have 1).
	_, err := p.Checkout(job.ResourceRequest{
		{"cpus": 2},
		{"gpus": 2},
	})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}
	if got := p.Count("cpus"); got != before {
		t.Fatalf("cpus count after rollback = %d, want %d (must be untouched)", got, before)
	}
	if got := p.Count("gpus"); got != 1 {
		t.Fatalf("gpus count after rollback = %d, want 1", got)
	}
}

func TestCheckout_BestFit_PrefersSmallestSufficientInstance(t *testing.T) {
	p := New()
	p.Fill("licenses", "big", 10)
	p.Fill("licenses", "small", 3)

	acq, err := p.Checkout(job.ResourceRequest{{"licenses": 2}})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	got := acq[0]["licenses"]
	if len(got) != 1 || got[0].ID != "small" {
		t.Fatalf("expected best-fit to pick \"small\", got %+v", got)
	}
}

func TestTypes_AlwaysIncludesCPUsAndGPUs(t *testing.T) {
	p := New()
	p.Populate("licenses", 1)
	types := p.Types()
	hasCPUs, hasGPUs := false, false
	for _, ty := range types {
		if ty == "cpus" {
			hasCPUs = true
		}
		if ty == "gpus" {
			hasGPUs = true
		}
	}
	if !hasCPUs || !hasGPUs {
		t.Fatalf("Types() = %v, must always include cpus and gpus", types)
	}
}

func TestOversubscribe_MultipliesSlots(t *testing.T) {
	p := New()
	p.Populate("cpus", 4)
	p.Oversubscribe("cpus", 2)
	if got := p.Count("cpus"); got != 8 {
		t.Fatalf("got %d, want 8", got)
	}
}

func TestCheckin_UnknownInstancePanics(t *testing.T) {
	p := New()
	p.Populate("cpus", 2)
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic on checkin of unknown instance")
		}
	}()
	p.Checkin(job.Acquired{{"cpus": []job.Instance{{ID: "ghost", Slots: 1}}}})
}
