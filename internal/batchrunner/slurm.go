package batchrunner

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"testexec/internal/batch"
)

// SlurmBackend submits a bucket as a single sbatch script. Header
// composition mirrors the original SlurmRunner.write_header: one
// #SBATCH directive per allocation parameter, constant-time string
// assembly rather than a templating engine.
type SlurmBackend struct {
	Shell   string
	Command string // defaults to "sbatch"
}

func NewSlurmBackend() *SlurmBackend {
	return &SlurmBackend{Shell: "/bin/sh", Command: "sbatch"}
}

func (s *SlurmBackend) Name() string { return "slurm" }

func (s *SlurmBackend) writeHeader(w *bufio.Writer, alloc Allocation, jobName string) {
	fmt.Fprintf(w, "#!%s\n", s.Shell)
	fmt.Fprintf(w, "#SBATCH --job-name=%s\n", jobName)
	fmt.Fprintf(w, "#SBATCH --nodes=%d\n", alloc.Nodes)
	fmt.Fprintf(w, "#SBATCH --ntasks-per-node=%d\n", alloc.TasksPerNode)
	fmt.Fprintf(w, "#SBATCH --cpus-per-task=%d\n", alloc.CPUsPerTask)
	if alloc.WallTime > 0 {
		fmt.Fprintf(w, "#SBATCH --time=%s\n", fmtWallTime(alloc.WallTime))
	}
}

func (s *SlurmBackend) Submit(ctx context.Context, bucket batch.Bucket, alloc Allocation) (string, error) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	jobName := bucketName(bucket)
	s.writeHeader(w, alloc, jobName)
	for _, blk := range bucket.Blocks {
		fmt.Fprintf(w, "srun --exclusive -n1 -c%d testexec-run-case %s &\n", blk.Extent, blk.ID)
	}
	fmt.Fprintln(w, "wait")
	w.Flush()

	cmd := exec.CommandContext(ctx, s.Command)
	cmd.Stdin = &buf
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("batchrunner/slurm: submit: %w", err)
	}
	id, err := parseSbatchOutput(string(out))
	if err != nil {
		return "", err
	}
	return id, nil
}

var sbatchIDPattern = regexp.MustCompile(`Submitted batch job (\d+)`)

func parseSbatchOutput(out string) (string, error) {
	m := sbatchIDPattern.FindStringSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("batchrunner/slurm: could not parse sbatch output %q", out)
	}
	return m[1], nil
}

func (s *SlurmBackend) Poll(ctx context.Context, schedulerJobID string) (bool, error) {
	cmd := exec.CommandContext(ctx, "squeue", "-h", "-j", schedulerJobID)
	out, err := cmd.Output()
	if err != nil {
		// squeue exits non-zero once the job id is unknown, i.e. done.
		return true, nil
	}
	return strings.TrimSpace(string(out)) == "", nil
}

func (s *SlurmBackend) Cancel(ctx context.Context, schedulerJobID string) error {
	return exec.CommandContext(ctx, "scancel", schedulerJobID).Run()
}

func fmtWallTime(d interface{ Seconds() float64 }) string {
	total := int(d.Seconds())
	h := total / 3600
	m := (total % 3600) / 60
	sec := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
}

func bucketName(b batch.Bucket) string {
	if len(b.Blocks) == 0 {
		return "testexec-batch"
	}
	return "testexec-" + b.Blocks[0].ID
}
