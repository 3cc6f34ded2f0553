// Package queue implements the durable transport for C10's learning
// loop: a Redis Streams consumer-group queue carrying feedback outcomes
// from the API process (producer) to the worker process (single
// consumer), so the confusion-matrix and consortium updates survive a
// worker restart instead of living only in an in-process channel.
// Adapted from the teacher's RedisStreamClient (kept: consumer-group
// creation, claim-pending-then-read-new consume loop, per-message ack,
// dead-letter stream on repeated failure) repointed at FeedbackOutcome
// instead of TransactionEvent; the teacher's CacheClient in this same
// file duplicated internal/cache's Lua-script-backed Store and is
// dropped (DESIGN.md).
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	streamName       = "feedback-events"
	consumerGroup    = "feedback-workers"
	deadLetterStream = "feedback-events-dlq"
	claimIdleTime    = 30 * time.Second
)

// FeedbackOutcome is the wire payload for one queued learning-loop
// update: the label has already been persisted on the transaction by
// the time this is published (spec §4.8 steps 1-2 run synchronously in
// the request path); this carries what's needed for steps 3-4.
type FeedbackOutcome struct {
	TenantID      string `json:"tenant_id"`
	TransactionID string `json:"transaction_id"`
	ActualFraud   bool   `json:"actual_fraud"`
}

// FeedbackStream is a consumer-group-backed Redis Stream carrying
// FeedbackOutcome events.
type FeedbackStream struct {
	client     *redis.Client
	maxRetries int
}

// NewFeedbackStream connects to Redis and ensures the consumer group
// exists.
func NewFeedbackStream(redisURL string, maxRetries int) (*FeedbackStream, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	fs := &FeedbackStream{client: client, maxRetries: maxRetries}
	if err := fs.createConsumerGroup(ctx); err != nil {
		log.Warn().Err(err).Msg("feedback consumer group may already exist")
	}

	log.Info().Msg("feedback stream client initialized")
	return fs, nil
}

func (f *FeedbackStream) createConsumerGroup(ctx context.Context) error {
	err := f.client.XGroupCreateMkStream(ctx, streamName, consumerGroup, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return err
	}
	return nil
}

// Publish enqueues one feedback outcome.
func (f *FeedbackStream) Publish(ctx context.Context, outcome FeedbackOutcome) (string, error) {
	data, err := json.Marshal(outcome)
	if err != nil {
		return "", fmt.Errorf("failed to marshal outcome: %w", err)
	}

	msgID, err := f.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamName,
		Values: map[string]interface{}{"data": string(data)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish outcome: %w", err)
	}

	log.Debug().
		Str("message_id", msgID).
		Str("transaction_id", outcome.TransactionID).
		Msg("feedback outcome published")

	return msgID, nil
}

// StreamMessage pairs a decoded outcome with the message ID needed to
// acknowledge it.
type StreamMessage struct {
	ID      string
	Outcome FeedbackOutcome
}

// Consume claims any abandoned pending messages first, then reads new
// ones, mirroring the teacher's at-least-once consume loop.
func (f *FeedbackStream) Consume(ctx context.Context, consumerName string, count int64, block time.Duration) ([]StreamMessage, error) {
	claimed, err := f.claimPending(ctx, consumerName, count)
	if err != nil {
		log.Warn().Err(err).Msg("failed to claim pending feedback messages")
	}
	if len(claimed) > 0 {
		return claimed, nil
	}

	streams, err := f.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    consumerGroup,
		Consumer: consumerName,
		Streams:  []string{streamName, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read feedback stream: %w", err)
	}

	var out []StreamMessage
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			outcome, err := parseMessage(msg)
			if err != nil {
				log.Error().Err(err).Str("message_id", msg.ID).Msg("failed to parse feedback message")
				continue
			}
			out = append(out, StreamMessage{ID: msg.ID, Outcome: outcome})
		}
	}
	return out, nil
}

func (f *FeedbackStream) claimPending(ctx context.Context, consumerName string, count int64) ([]StreamMessage, error) {
	pending, err := f.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: streamName,
		Group:  consumerGroup,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}

	var ids []string
	for _, p := range pending {
		if p.Idle >= claimIdleTime {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	claimed, err := f.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   streamName,
		Group:    consumerGroup,
		Consumer: consumerName,
		MinIdle:  claimIdleTime,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, err
	}

	var out []StreamMessage
	for _, msg := range claimed {
		outcome, err := parseMessage(msg)
		if err != nil {
			log.Error().Err(err).Str("message_id", msg.ID).Msg("failed to parse claimed feedback message")
			continue
		}
		out = append(out, StreamMessage{ID: msg.ID, Outcome: outcome})
	}
	return out, nil
}

func parseMessage(msg redis.XMessage) (FeedbackOutcome, error) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return FeedbackOutcome{}, fmt.Errorf("invalid message format")
	}
	var outcome FeedbackOutcome
	if err := json.Unmarshal([]byte(data), &outcome); err != nil {
		return FeedbackOutcome{}, fmt.Errorf("failed to unmarshal outcome: %w", err)
	}
	return outcome, nil
}

// Ack acknowledges a message as processed.
func (f *FeedbackStream) Ack(ctx context.Context, messageID string) error {
	if err := f.client.XAck(ctx, streamName, consumerGroup, messageID).Err(); err != nil {
		return fmt.Errorf("failed to acknowledge message: %w", err)
	}
	return nil
}

// SendToDeadLetter records a message that exhausted retries.
func (f *FeedbackStream) SendToDeadLetter(ctx context.Context, outcome FeedbackOutcome, cause error) error {
	data, _ := json.Marshal(outcome)
	err := f.client.XAdd(ctx, &redis.XAddArgs{
		Stream: deadLetterStream,
		Values: map[string]interface{}{"data": string(data), "error": cause.Error()},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to send to dead letter: %w", err)
	}
	log.Warn().Str("transaction_id", outcome.TransactionID).Err(cause).Msg("feedback outcome sent to dead letter queue")
	return nil
}

// MaxRetries is the configured retry budget before a message is
// dead-lettered.
func (f *FeedbackStream) MaxRetries() int { return f.maxRetries }

// Close closes the underlying Redis client.
func (f *FeedbackStream) Close() error {
	return f.client.Close()
}
