package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/utafrali/catalog-indexer/internal/domain"
)

// PollDelay returns the wait before poll attempt n: base * factor^n, capped.
func (c Config) PollDelay(attempt int) time.Duration {
	d := float64(c.PollBaseDelay) * math.Pow(c.PollFactor, float64(attempt))
	if d > float64(c.PollMaxDelay) || math.IsInf(d, 1) {
		return c.PollMaxDelay
	}
	return time.Duration(d)
}

// PollUntilComplete polls jobID until it reaches a terminal state.
//
// A null node means the job is not visible yet. Schema errors wait
// SchemaErrorDelay; any other error waits the normal backoff. Either kind
// aborts the poll after MaxConsecutiveErrors in a row. A COMPLETED job is
// returned as is; a job without URL means the export is empty.
func (c *Client) PollUntilComplete(ctx context.Context, jobID string) (*domain.ExportJob, error) {
	var schemaErrs, otherErrs int

	for attempt := 0; attempt < c.cfg.PollMaxAttempts; attempt++ {
		pollAttempts.Inc()

		var data struct {
			Node *bulkOperation `json:"node"`
		}
		err := c.query(ctx, "poll bulk operation", pollQuery, map[string]any{"id": jobID}, &data)

		var schemaErr *domain.SchemaIncompatibilityError
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()

		case errors.As(err, &schemaErr):
			schemaErrs++
			otherErrs = 0
			if schemaErrs >= c.cfg.MaxConsecutiveErrors {
				return nil, err
			}
			c.logger.WarnContext(ctx, "poll hit schema error",
				slog.String("job_id", jobID),
				slog.Int("consecutive", schemaErrs),
				slog.String("error", err.Error()),
			)
			if err := c.sleep(ctx, c.cfg.SchemaErrorDelay); err != nil {
				return nil, err
			}
			continue

		case err != nil:
			otherErrs++
			schemaErrs = 0
			if otherErrs >= c.cfg.MaxConsecutiveErrors {
				return nil, fmt.Errorf("poll export job %s: %d consecutive errors: %w", jobID, otherErrs, err)
			}
			c.logger.WarnContext(ctx, "poll failed",
				slog.String("job_id", jobID),
				slog.Int("consecutive", otherErrs),
				slog.String("error", err.Error()),
			)

		default:
			schemaErrs, otherErrs = 0, 0
			if data.Node != nil && data.Node.ID != "" {
				job := data.Node.job()
				c.logger.DebugContext(ctx, "poll status",
					slog.String("job_id", jobID),
					slog.String("status", string(job.Status)),
					slog.Int64("object_count", job.ObjectCount),
				)
				switch job.Status {
				case domain.JobCompleted:
					return &job, nil
				case domain.JobFailed, domain.JobCanceled, domain.JobExpired:
					return nil, &domain.TerminalJobError{JobID: jobID, Status: job.Status, ErrorCode: job.ErrorCode}
				}
			}
		}

		if err := c.sleep(ctx, c.cfg.PollDelay(attempt)); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("export job %s after %d attempts: %w", jobID, c.cfg.PollMaxAttempts, domain.ErrPollTimeout)
}
