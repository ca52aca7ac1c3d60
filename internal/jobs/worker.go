package jobs

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/angelmondragon/recapz-backend/pkg/logger"
)

type processor interface {
	Process(ctx context.Context, jobID uuid.UUID) error
}

// Worker drains the queue into the pipeline.
type Worker struct {
	queue    Queue
	pipeline processor
	logg     *logger.Logger
}

func NewWorker(queue Queue, pipeline processor, logg *logger.Logger) (*Worker, error) {
	if queue == nil {
		return nil, errors.New("queue is required")
	}
	if pipeline == nil {
		return nil, errors.New("pipeline is required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Worker{queue: queue, pipeline: pipeline, logg: logg}, nil
}

// Run consumes until ctx ends.
func (w *Worker) Run(ctx context.Context) error {
	w.logg.Info(ctx, "jobs.worker_started")
	err := w.queue.Consume(ctx, w.handle)
	if errors.Is(err, context.Canceled) {
		w.logg.Info(ctx, "jobs.worker_stopped")
		return nil
	}
	return err
}

func (w *Worker) handle(ctx context.Context, msg JobMessage) error {
	if err := w.pipeline.Process(ctx, msg.JobID); err != nil {
		w.logg.Error(w.logg.WithJobID(ctx, msg.JobID.String()), "jobs.process_failed", err)
		return err
	}
	return nil
}
