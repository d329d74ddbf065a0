package config

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"
)

func noEnv(string) string { return "" }

func TestResolve_Defaults(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s, err := Resolve(fs, afero.NewMemMapFs(), noEnv)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Workers != -1 {
		t.Fatalf("expected default workers -1, got %d", s.Workers)
	}
	if s.TimeoutMultiplier != 1.0 {
		t.Fatalf("expected default multiplier 1.0, got %v", s.TimeoutMultiplier)
	}
}

func TestResolve_FlagsOverrideDefaults(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	args := []string{
		"--workers=4",
		"--timeout=90s",
		"--timeout-multiplier=2.5",
		"--resource-override=gpus=2",
		"--oversubscribe=cpus=3",
		"--test-timeout=fast:15s",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s, err := Resolve(fs, afero.NewMemMapFs(), noEnv)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Workers != 4 {
		t.Fatalf("expected workers 4, got %d", s.Workers)
	}
	if s.SessionTimeout != 90*time.Second {
		t.Fatalf("expected 90s timeout, got %v", s.SessionTimeout)
	}
	if s.ResourceOverrides["gpus"] != 2 {
		t.Fatalf("expected gpus override 2, got %d", s.ResourceOverrides["gpus"])
	}
	if s.Oversubscribe["cpus"] != 3 {
		t.Fatalf("expected cpus oversubscribe 3, got %d", s.Oversubscribe["cpus"])
	}
	if s.TestTimeouts["fast"] != 15*time.Second {
		t.Fatalf("expected fast test-timeout 15s, got %v", s.TestTimeouts["fast"])
	}
}

func TestResolve_BatchSpecParsed(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse([]string{"--batch=count:auto,layout:flat,backend:slurm,duration:1h"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, err := Resolve(fs, afero.NewMemMapFs(), noEnv)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Batch == nil {
		t.Fatalf("expected batch spec to be set")
	}
	if s.Batch.Count != "auto" || s.Batch.Layout != "flat" || s.Batch.Backend != "slurm" {
		t.Fatalf("unexpected batch spec: %+v", s.Batch)
	}
	if s.Batch.Duration != time.Hour {
		t.Fatalf("expected 1h duration, got %v", s.Batch.Duration)
	}
}

func TestResolve_BatchSpecUnknownOptionErrors(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse([]string{"--batch=bogus:1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := Resolve(fs, afero.NewMemMapFs(), noEnv); err == nil {
		t.Fatalf("expected error for unknown batch option")
	}
}

func TestResolve_InvalidPoolAddrErrors(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	env := func(k string) string {
		if k == EnvResourcePoolAddr {
			return "not-a-valid-addr"
		}
		return ""
	}
	if _, err := Resolve(fs, afero.NewMemMapFs(), env); err == nil {
		t.Fatalf("expected error for invalid pool addr")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	fsys := afero.NewMemMapFs()
	s := defaults()
	s.Workers = 8
	s.Batch = &BatchSpec{Count: "auto", Layout: "flat"}

	if err := WriteSnapshot(fsys, "/tmp/snap.json", s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := ReadSnapshot(fsys, "/tmp/snap.json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Workers != 8 {
		t.Fatalf("expected workers 8, got %d", got.Workers)
	}
	if got.Batch == nil || got.Batch.Count != "auto" {
		t.Fatalf("expected batch spec to round-trip, got %+v", got.Batch)
	}
}
