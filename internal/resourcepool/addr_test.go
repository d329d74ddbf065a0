package resourcepool

import "testing"

func TestParseAddr_UDS(t *testing.T) {
	a, err := ParseAddr("uds:/tmp/testexec/0/pool.socket")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if a.Network != "unix" || a.Address != "/tmp/testexec/0/pool.socket" {
		t.Fatalf("got %+v", a)
	}
	if a.String() != "uds:/tmp/testexec/0/pool.socket" {
		t.Fatalf("roundtrip: %s", a.String())
	}
}

func TestParseAddr_TCP(t *testing.T) {
	a, err := ParseAddr("tcp:127.0.0.1:9090")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if a.Network != "tcp" || a.Address != "127.0.0.1:9090" {
		t.Fatalf("got %+v", a)
	}
}

func TestParseAddr_Unrecognized(t *testing.T) {
	if _, err := ParseAddr("http://x"); err == nil {
		t.Fatalf("expected error")
	}
}
