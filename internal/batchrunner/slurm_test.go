package batchrunner

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
	"time"

	"testexec/internal/batch"
)

func TestSlurmBackend_WriteHeader(t *testing.T) {
	s := NewSlurmBackend()
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	alloc := Allocation{Nodes: 2, TasksPerNode: 8, CPUsPerTask: 1, WallTime: 90 * time.Minute}
	s.writeHeader(w, alloc, "job1")
	w.Flush()

	out := buf.String()
	for _, want := range []string{
		"#SBATCH --job-name=job1",
		"#SBATCH --nodes=2",
		"#SBATCH --ntasks-per-node=8",
		"#SBATCH --cpus-per-task=1",
		"#SBATCH --time=01:30:00",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected header to contain %q, got:\n%s", want, out)
		}
	}
}

func TestParseSbatchOutput(t *testing.T) {
	id, err := parseSbatchOutput("Submitted batch job 12345\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "12345" {
		t.Fatalf("expected id 12345, got %q", id)
	}

	if _, err := parseSbatchOutput("garbage output"); err == nil {
		t.Fatalf("expected error parsing garbage output")
	}
}

func TestBucketName(t *testing.T) {
	if got := bucketName(batch.Bucket{}); got != "testexec-batch" {
		t.Fatalf("expected fallback name, got %q", got)
	}
	b := batch.Bucket{Blocks: []batch.Block{{ID: "case-1"}}}
	if got := bucketName(b); got != "testexec-case-1" {
		t.Fatalf("expected testexec-case-1, got %q", got)
	}
}

func TestFmtWallTime(t *testing.T) {
	if got := fmtWallTime(3661 * time.Second); got != "01:01:01" {
		t.Fatalf("expected 01:01:01, got %q", got)
	}
}
