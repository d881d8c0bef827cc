package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/settleline-recon-engine/internal/config"
	"github.com/settleline-recon-engine/internal/domain/shared"
	"github.com/settleline-recon-engine/internal/platform/messaging/producers"
	"github.com/settleline-recon-engine/internal/recon_worker/service"
)

// RunRequestHandler handles incoming recon run request messages from Kafka
type RunRequestHandler struct {
	runnerService service.RunnerService
	producer      producers.DeadLetterPublisher
	retry         config.RetryConfig
	logger        *slog.Logger
}

// NewRunRequestHandler creates a new handler
func NewRunRequestHandler(
	logger *slog.Logger,
	runnerService service.RunnerService,
	producer producers.DeadLetterPublisher,
	retry config.RetryConfig,
) *RunRequestHandler {
	return &RunRequestHandler{
		runnerService: runnerService,
		producer:      producer,
		retry:         retry,
		logger:        logger,
	}
}

// HandleMessage processes Kafka messages
func (h *RunRequestHandler) HandleMessage(ctx context.Context, key []byte, value []byte) error {
	var request shared.RunRequest
	if err := json.Unmarshal(value, &request); err != nil {
		unmarshalErrorMsg := "Failed to unmarshal run request from Kafka message"
		h.logger.Error(unmarshalErrorMsg,
			"error", err,
			"message_key", string(key),
		)

		// Send to DLQ if available
		if h.producer != nil {
			dlqReason := fmt.Sprintf("%s: %s", unmarshalErrorMsg, err.Error())
			if dlqErr := h.producer.PublishToDLQ(ctx, string(key), value, dlqReason); dlqErr != nil {
				h.logger.Error("Failed to publish message to DLQ after unmarshal error",
					"dlq_error", dlqErr,
					"original_error", err,
					"message_key", string(key),
				)
			} else {
				h.logger.Info("Successfully published unprocessable message to DLQ", "message_key", string(key), "reason", dlqReason)
				// Message handled, commit offset
				return nil
			}
		}
		// Allow Kafka retries
		return fmt.Errorf("failed to unmarshal message value: %w", err)
	}

	// Add correlation ID to logger
	logger := h.logger
	if request.CorrelationID != "" {
		logger = h.logger.With("correlation_id", request.CorrelationID)
	}

	logger.Info("Received run request",
		"job_id", request.JobID.String(),
		"cycle_date", request.CycleDate,
		"dry_run", request.DryRun,
	)

	// RunJob returns an error only for transient faults, so a bounded
	// retry with exponential backoff resolves most of them without a
	// Kafka redelivery cycle.
	var runErr error
	for attempt := 1; attempt <= h.retry.MaxAttempts; attempt++ {
		runErr = h.runnerService.RunJob(ctx, &request)
		if runErr == nil {
			logger.Info("Successfully ran recon job", "job_id", request.JobID.String())
			return nil // Success, commit offset
		}
		logger.Warn("Recon job attempt failed",
			"job_id", request.JobID.String(),
			"attempt", attempt,
			"max_attempts", h.retry.MaxAttempts,
			"error", runErr,
		)
		if attempt == h.retry.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(h.retry.BaseDelay << (attempt - 1)):
		}
	}

	logger.Error("Failed to run recon job after retries",
		"job_id", request.JobID.String(),
		"cycle_date", request.CycleDate,
		"error", runErr,
	)
	if h.producer != nil {
		dlqReason := fmt.Sprintf("run failed after %d attempts: %s", h.retry.MaxAttempts, runErr.Error())
		if dlqErr := h.producer.PublishToDLQ(ctx, string(key), value, dlqReason); dlqErr == nil {
			logger.Info("Published exhausted run request to DLQ", "message_key", string(key), "reason", dlqReason)
			return nil // Parked on the DLQ, commit offset
		}
		logger.Error("Failed to publish exhausted run request to DLQ", "message_key", string(key))
	}
	return fmt.Errorf("running recon job %s failed: %w", request.JobID.String(), runErr)
}
