// Package feedback implements C10: accepting an outcome label,
// updating per-rule accuracy, and pushing the outcome into the
// consortium aggregates. Grounded on the teacher's repository CRUD
// style for the lookup/update half; the learning-loop consumer has no
// teacher analogue and is built directly from spec §4.7's note that
// "the learning loop is a single consumer of a feedback channel" and
// §5's backpressure-as-latency policy — realized as a Redis Streams
// consumer group (internal/queue) rather than an in-process channel,
// so the loop survives a worker restart without losing a queued update.
package feedback

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sentinel/fraud-engine/internal/clock"
	"github.com/sentinel/fraud-engine/internal/models"
	"github.com/sentinel/fraud-engine/internal/queue"
	"github.com/sentinel/fraud-engine/internal/repositories"
	"github.com/sentinel/fraud-engine/internal/scoring/consortium"
)

var ErrAlreadyApplied = errors.New("feedback already applied for this transaction")

// Handler wires the transaction, rule-accuracy, and consortium stores
// together behind the submit_feedback contract. The transaction lookup
// and actual_fraud write happen synchronously (the ack depends on
// them: a missing transaction must 404 before the handler returns);
// the heavier rule-accuracy and consortium updates are published onto
// a durable stream for the learning loop's single consumer, so a burst
// of feedback never serializes request latency behind another tenant's
// confusion-matrix update.
type Handler struct {
	txRepo       *repositories.TransactionRepository
	accuracyRepo *repositories.RuleAccuracyRepository
	aggregator   *consortium.Aggregator
	clk          clock.Clock
	stream       *queue.FeedbackStream
}

func NewHandler(
	txRepo *repositories.TransactionRepository,
	accuracyRepo *repositories.RuleAccuracyRepository,
	aggregator *consortium.Aggregator,
	clk clock.Clock,
	stream *queue.FeedbackStream,
) *Handler {
	return &Handler{
		txRepo:       txRepo,
		accuracyRepo: accuracyRepo,
		aggregator:   aggregator,
		clk:          clk,
		stream:       stream,
	}
}

// Submit implements spec §4.8's submit_feedback contract: locate and
// label the transaction synchronously, then publish the confusion-
// matrix and consortium updates for the learning loop to pick up.
func (h *Handler) Submit(ctx context.Context, tenantID, transactionID string, actualFraud bool) error {
	_, err := h.txRepo.GetByID(ctx, tenantID, transactionID)
	if err != nil {
		return err
	}

	now := h.clk.Now()
	applied, err := h.txRepo.SetFeedback(ctx, tenantID, transactionID, actualFraud, now)
	if err != nil {
		return err
	}
	if !applied {
		return ErrAlreadyApplied
	}

	_, err = h.stream.Publish(ctx, queue.FeedbackOutcome{
		TenantID:      tenantID,
		TransactionID: transactionID,
		ActualFraud:   actualFraud,
	})
	return err
}

// maxDeliveryAttempts is the dead-letter threshold Run falls back to
// when the stream carries no positive retry budget. Run keeps its
// attempt counts in memory per message ID, good enough for the
// single-consumer case this runs under: a worker restart re-delivers
// pending messages from Redis with a fresh count, which only delays a
// dead-letter decision rather than losing one.
const maxDeliveryAttempts = 5

// Run is the learning loop's single consumer. It polls the stream
// until ctx is cancelled, applying steps 3-4 of spec §4.8 for each
// outcome and acknowledging it, or dead-lettering it after repeated
// failure.
func (h *Handler) Run(ctx context.Context, consumerName string) {
	attempts := make(map[string]int)
	limit := h.stream.MaxRetries()
	if limit <= 0 {
		limit = maxDeliveryAttempts
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messages, err := h.stream.Consume(ctx, consumerName, 10, 5*time.Second)
		if err != nil {
			log.Error().Err(err).Msg("feedback stream consume failed")
			continue
		}

		for _, msg := range messages {
			if err := h.applyLearning(ctx, msg.Outcome); err != nil {
				attempts[msg.ID]++
				log.Error().Err(err).Str("message_id", msg.ID).Int("attempt", attempts[msg.ID]).
					Msg("failed to apply feedback outcome")
				if attempts[msg.ID] >= limit {
					if dlqErr := h.stream.SendToDeadLetter(ctx, msg.Outcome, err); dlqErr != nil {
						log.Error().Err(dlqErr).Msg("failed to dead-letter feedback outcome")
					}
					delete(attempts, msg.ID)
					_ = h.stream.Ack(ctx, msg.ID)
				}
				continue
			}
			delete(attempts, msg.ID)
			if err := h.stream.Ack(ctx, msg.ID); err != nil {
				log.Error().Err(err).Str("message_id", msg.ID).Msg("failed to ack feedback outcome")
			}
		}
	}
}

// applyLearning runs steps 3 and 4 of spec §4.8 for one queued
// outcome: per-rule confusion-matrix updates and the consortium write.
// It re-reads the transaction since the worker process does not share
// the requesting process's memory.
func (h *Handler) applyLearning(ctx context.Context, o queue.FeedbackOutcome) error {
	tx, err := h.txRepo.GetByID(ctx, o.TenantID, o.TransactionID)
	if err != nil {
		return err
	}

	predictedFraud := tx.RiskLevel == models.RiskHigh || tx.RiskLevel == models.RiskCritical

	for _, flag := range tx.Flags {
		if err := h.updateRuleAccuracy(ctx, flag, predictedFraud, o.ActualFraud); err != nil {
			return err
		}
	}

	return h.aggregator.RecordOutcome(ctx, o.TenantID, tx, o.ActualFraud, h.clk.Now())
}

// updateRuleAccuracy applies one confusion-matrix cell update and
// recomputes derived metrics. The learning loop's single-consumer
// guarantee is what keeps this a critical section (spec §4.8:
// concurrent updates must never interleave into a partial write)
// without needing an explicit lock.
func (h *Handler) updateRuleAccuracy(ctx context.Context, flag models.Flag, predictedFraud, actualFraud bool) error {
	ra, err := h.accuracyRepo.GetOrCreate(ctx, flag.RuleID, flag.RuleName)
	if err != nil {
		return err
	}

	switch {
	case predictedFraud && actualFraud:
		ra.TP++
	case predictedFraud && !actualFraud:
		ra.FP++
	case !predictedFraud && actualFraud:
		ra.FN++
	default:
		ra.TN++
	}
	ra.Recompute()

	return h.accuracyRepo.Update(ctx, ra)
}
