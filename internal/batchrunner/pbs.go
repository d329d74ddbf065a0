package batchrunner

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"testexec/internal/batch"
)

// PBSBackend submits a bucket as a single qsub script, the same node/
// task arithmetic as SlurmBackend with PBS's #PBS directive set.
type PBSBackend struct {
	Shell   string
	Command string // defaults to "qsub"
}

func NewPBSBackend() *PBSBackend {
	return &PBSBackend{Shell: "/bin/sh", Command: "qsub"}
}

func (p *PBSBackend) Name() string { return "pbs" }

func (p *PBSBackend) writeHeader(w *bufio.Writer, alloc Allocation, jobName string) {
	fmt.Fprintf(w, "#!%s\n", p.Shell)
	fmt.Fprintf(w, "#PBS -N %s\n", jobName)
	fmt.Fprintf(w, "#PBS -l select=%d:ncpus=%d:mpiprocs=%d\n", alloc.Nodes, alloc.TasksPerNode*alloc.CPUsPerTask, alloc.TasksPerNode)
	if alloc.WallTime > 0 {
		fmt.Fprintf(w, "#PBS -l walltime=%s\n", fmtWallTime(alloc.WallTime))
	}
}

func (p *PBSBackend) Submit(ctx context.Context, bucket batch.Bucket, alloc Allocation) (string, error) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	jobName := bucketName(bucket)
	p.writeHeader(w, alloc, jobName)
	fmt.Fprintln(w, `cd "$PBS_O_WORKDIR"`)
	for _, blk := range bucket.Blocks {
		fmt.Fprintf(w, "testexec-run-case %s &\n", blk.ID)
	}
	fmt.Fprintln(w, "wait")
	w.Flush()

	cmd := exec.CommandContext(ctx, p.Command)
	cmd.Stdin = &buf
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("batchrunner/pbs: submit: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (p *PBSBackend) Poll(ctx context.Context, schedulerJobID string) (bool, error) {
	cmd := exec.CommandContext(ctx, "qstat", schedulerJobID)
	if err := cmd.Run(); err != nil {
		return true, nil
	}
	return false, nil
}

func (p *PBSBackend) Cancel(ctx context.Context, schedulerJobID string) error {
	return exec.CommandContext(ctx, "qdel", schedulerJobID).Run()
}
