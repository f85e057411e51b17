package route

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const defaultStageTimeout = 45 * time.Second

// Stage is one step of the pipeline. It must not mutate its input draft.
type Stage interface {
	Name() string
	Run(ctx context.Context, rc RoomContext, in Draft) (Draft, error)
}

// FailedError reports the stage that stopped a pipeline run.
type FailedError struct {
	Stage string
	Cause error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("pipeline failed at %s: %v", e.Stage, e.Cause)
}

func (e *FailedError) Unwrap() error {
	return e.Cause
}

// Pipeline runs stages in order and stops at the first failure.
type Pipeline struct {
	stages       []Stage
	stageTimeout time.Duration
	logger       *slog.Logger
}

func NewPipeline(stageTimeout time.Duration, logger *slog.Logger, stages ...Stage) *Pipeline {
	if stageTimeout <= 0 {
		stageTimeout = defaultStageTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{stages: stages, stageTimeout: stageTimeout, logger: logger}
}

// Run reduces the room context through every stage. Any failure, including
// a timeout or a panic inside a stage, is returned as *FailedError.
func (p *Pipeline) Run(ctx context.Context, rc RoomContext) (Draft, error) {
	draft := NewDraft(rc)
	last := "pipeline"
	for _, stage := range p.stages {
		last = stage.Name()
		started := time.Now()
		next, err := p.runStage(ctx, stage, rc, draft)
		if err != nil {
			p.logger.Warn("route stage failed", "room_id", rc.RoomID, "stage", stage.Name(), "err", err)
			return Draft{}, &FailedError{Stage: stage.Name(), Cause: err}
		}
		p.logger.Debug("route stage done", "room_id", rc.RoomID, "stage", stage.Name(), "elapsed", time.Since(started))
		draft = next
	}
	if err := ValidateCandidates(draft.Candidates); err != nil {
		return Draft{}, &FailedError{Stage: last, Cause: err}
	}
	return draft, nil
}

type stageResult struct {
	draft Draft
	err   error
}

func (p *Pipeline) runStage(ctx context.Context, stage Stage, rc RoomContext, in Draft) (Draft, error) {
	sctx, cancel := context.WithTimeout(ctx, p.stageTimeout)
	defer cancel()

	done := make(chan stageResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- stageResult{err: fmt.Errorf("stage panicked: %v", r)}
			}
		}()
		out, err := stage.Run(sctx, rc, in.clone())
		done <- stageResult{draft: out, err: err}
	}()

	select {
	case res := <-done:
		return res.draft, res.err
	case <-sctx.Done():
		return Draft{}, fmt.Errorf("stage %s: %w", stage.Name(), sctx.Err())
	}
}
