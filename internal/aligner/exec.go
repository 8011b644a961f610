package aligner

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/agenthands/alignoracle/internal/core/model"
)

// ExecEngine runs the alignment engine as a subprocess and exchanges
// mappings through Files.
type ExecEngine struct {
	Files         FileEngine
	Command       []string
	RefineCommand []string
	WorkDir       string
}

func (e *ExecEngine) Align(ctx context.Context) ([]model.CandidateMapping, error) {
	if err := e.run(ctx, e.Command); err != nil {
		return nil, err
	}
	return e.Files.Align(ctx)
}

// Realign writes feedback, runs RefineCommand and reads the refined
// alignment. Without a RefineCommand it only writes feedback.
func (e *ExecEngine) Realign(ctx context.Context, feedback []model.RefinedMapping) ([]model.CandidateMapping, error) {
	if err := e.Files.writeFeedback(feedback); err != nil {
		return nil, err
	}
	if len(e.RefineCommand) == 0 {
		return nil, nil
	}
	if err := e.run(ctx, e.RefineCommand); err != nil {
		return nil, err
	}
	if e.Files.RefinedPath == "" {
		return nil, nil
	}
	return readMappings(e.Files.RefinedPath)
}

func (e *ExecEngine) run(ctx context.Context, argv []string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = e.WorkDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("aligner %s: %w: %s", argv[0], err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}
