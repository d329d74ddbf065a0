package batchrunner

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestPBSBackend_WriteHeader(t *testing.T) {
	p := NewPBSBackend()
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	alloc := Allocation{Nodes: 2, TasksPerNode: 8, CPUsPerTask: 2, WallTime: 45 * time.Minute}
	p.writeHeader(w, alloc, "job2")
	w.Flush()

	out := buf.String()
	for _, want := range []string{
		"#PBS -N job2",
		"#PBS -l select=2:ncpus=16:mpiprocs=8",
		"#PBS -l walltime=00:45:00",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected header to contain %q, got:\n%s", want, out)
		}
	}
}
