package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/railtrans/expo/internal/domain/job"
	"github.com/railtrans/expo/internal/jobs"
)

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// ProcessOne claims and runs at most one job. It reports whether a job was claimed.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	claimCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	j, err := w.repo.ClaimNext(claimCtx, w.cfg.WorkerID)
	cancel()

	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) || errors.Is(err, context.Canceled) {
			return false, nil
		}
		return false, err
	}

	w.metrics.Claimed(j.Type)

	// a claimed job finishes even when shutdown starts
	runCtx, cancelRun := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.JobTimeout)
	defer cancelRun()

	start := w.now()
	err = w.execute(runCtx, j)
	elapsed := time.Since(start)

	if err != nil {
		result := w.handleFailure(runCtx, j, err)
		w.observe(j.Type, result, elapsed)
		w.metrics.Finished(j.Type, result, elapsed)
		return true, nil
	}

	if err := w.repo.MarkDone(runCtx, j.ID); err != nil {
		_ = w.repo.MarkFailed(runCtx, j.ID, "mark_done_failed: "+err.Error())
		return true, err
	}

	w.observe(j.Type, "done", elapsed)
	w.metrics.Finished(j.Type, "done", elapsed)
	w.log.Info("job done", "job_id", j.ID, "job_type", j.Type, "duration_ms", elapsed.Milliseconds())

	return true, nil
}

func (w *Worker) execute(ctx context.Context, j job.Job) (err error) {
	h, ok := w.handlers[jobs.Type(j.Type)]
	if !ok {
		return Permanent(fmt.Errorf("%w: %s", jobs.ErrInvalidJobType, j.Type))
	}

	if w.prom != nil {
		w.prom.JobsInFlight.Inc()
		defer w.prom.JobsInFlight.Dec()
	}

	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("panic: %v", r))
		}
	}()

	return h(ctx, j)
}

// handleFailure retries with backoff until attempts run out. It returns the result label.
func (w *Worker) handleFailure(ctx context.Context, j job.Job, cause error) string {
	msg := cause.Error()
	attempt := j.Attempts + 1

	dead := IsPermanent(cause) ||
		errors.Is(cause, jobs.ErrInvalidJobPayload) ||
		errors.Is(cause, jobs.ErrPayloadTypeMismatch) ||
		attempt >= j.MaxAttempts

	if dead {
		w.log.Error("job failed", "job_id", j.ID, "job_type", j.Type, "attempt", attempt, "err", cause)

		if err := w.repo.MarkFailed(ctx, j.ID, msg); err != nil {
			w.log.Error("mark job failed", "job_id", j.ID, "err", err)
		}
		return "failed"
	}

	runAt := w.now().Add(w.cfg.Backoff(j.Attempts))
	w.log.Warn("job retry scheduled", "job_id", j.ID, "job_type", j.Type, "attempt", attempt, "run_at", runAt, "err", cause)

	if err := w.repo.Reschedule(ctx, j.ID, runAt, msg); err != nil {
		w.log.Error("reschedule job", "job_id", j.ID, "err", err)
	}
	return "retry"
}

func (w *Worker) observe(jobType, result string, d time.Duration) {
	if w.prom == nil {
		return
	}
	w.prom.JobResults.WithLabelValues(jobType, result).Inc()
	w.prom.JobDuration.WithLabelValues(jobType, result).Observe(d.Seconds())
}
