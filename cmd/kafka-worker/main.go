package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sentinel/fraud-engine/configs"
	"github.com/sentinel/fraud-engine/internal/cache"
)

// cmd/kafka-worker tails the Debezium CDC topic of the transactions
// table for audit and analytics: it keeps in-process metrics and a
// bounded recent-events list in Redis. Unlike cmd/worker, which
// consumes the feedback stream, it never writes back to the scoring
// stores and never scores a transaction; everything here reads what C9
// already decided.
const (
	recentEventsKey = "analytics:recent_events"
	recentEventsCap = 1000
)

// DebeziumMessage is a single change-data-capture envelope as emitted
// by the Debezium Postgres connector.
type DebeziumMessage struct {
	Before      json.RawMessage `json:"before"`
	After       json.RawMessage `json:"after"`
	Source      DebeziumSource  `json:"source"`
	Op          string          `json:"op"` // c=create, u=update, d=delete, r=snapshot
	TsMs        int64           `json:"ts_ms"`
	Transaction json.RawMessage `json:"transaction"`
}

type DebeziumSource struct {
	Version   string `json:"version"`
	Connector string `json:"connector"`
	Name      string `json:"name"`
	TsMs      int64  `json:"ts_ms"`
	Snapshot  string `json:"snapshot"`
	DB        string `json:"db"`
	Schema    string `json:"schema"`
	Table     string `json:"table"`
	TxID      int64  `json:"txId"`
	LSN       int64  `json:"lsn"`
}

// TransactionCDC mirrors the subset of internal/models.Transaction's
// columns the analytics pipeline cares about, decoded straight off the
// Debezium payload rather than through the scoring model.
type TransactionCDC struct {
	TransactionID  string  `json:"transaction_id"`
	TenantID       string  `json:"tenant_id"`
	UserID         string  `json:"user_id"`
	Vertical       string  `json:"vertical"`
	RiskScore      int     `json:"risk_score"`
	RiskLevel      string  `json:"risk_level"`
	Recommendation string  `json:"recommendation"`
	CreatedAt      string  `json:"created_at"`
	ActualFraud    *bool   `json:"actual_fraud"`
}

// AnalyticsEvent is the normalized fact derived from one CDC envelope.
type AnalyticsEvent struct {
	EventType      string                 `json:"event_type"`
	TransactionID  string                 `json:"transaction_id"`
	TenantID       string                 `json:"tenant_id"`
	Vertical       string                 `json:"vertical"`
	RiskLevel      string                 `json:"risk_level"`
	PrevRiskLevel  string                 `json:"prev_risk_level,omitempty"`
	Recommendation string                 `json:"recommendation"`
	Timestamp      time.Time              `json:"timestamp"`
	CDCTimestamp   int64                  `json:"cdc_timestamp_ms"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// RealTimeMetrics is an in-process rolling-window aggregate over the
// events this instance has seen, reported on an interval rather than
// persisted; a restart resets it.
type RealTimeMetrics struct {
	mu                    sync.RWMutex
	TransactionsCreated   int64
	TransactionsUpdated   int64
	RiskLevelDistribution map[string]int64
	VerticalDistribution  map[string]int64
	LastEventTime         time.Time
	windowStart           time.Time
	windowCount           int64
	EventsPerSecond       float64
}

func NewRealTimeMetrics() *RealTimeMetrics {
	return &RealTimeMetrics{
		RiskLevelDistribution: make(map[string]int64),
		VerticalDistribution:  make(map[string]int64),
		windowStart:           time.Now(),
	}
}

func (m *RealTimeMetrics) RecordEvent(event *AnalyticsEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LastEventTime = time.Now()
	m.windowCount++

	elapsed := time.Since(m.windowStart).Seconds()
	if elapsed > 0 {
		m.EventsPerSecond = float64(m.windowCount) / elapsed
	}
	if elapsed > 60 {
		m.windowStart = time.Now()
		m.windowCount = 0
	}

	switch event.EventType {
	case "transaction_created":
		m.TransactionsCreated++
		m.VerticalDistribution[event.Vertical]++
		m.RiskLevelDistribution[event.RiskLevel]++
	case "transaction_updated":
		m.TransactionsUpdated++
	}
}

func (m *RealTimeMetrics) GetSnapshot() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"transactions_created":    m.TransactionsCreated,
		"transactions_updated":    m.TransactionsUpdated,
		"events_per_second":       m.EventsPerSecond,
		"risk_level_distribution": m.RiskLevelDistribution,
		"vertical_distribution":   m.VerticalDistribution,
		"last_event_time":         m.LastEventTime,
	}
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("ENVIRONMENT") == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Info().Msg("starting CDC analytics pipeline (audit trail, does not score transactions)")

	cfg := configs.Load()

	kafkaBrokers := os.Getenv("KAFKA_BROKERS")
	if kafkaBrokers == "" {
		kafkaBrokers = "localhost:9092"
	}
	brokers := strings.Split(kafkaBrokers, ",")

	kafkaGroupID := os.Getenv("KAFKA_GROUP_ID")
	if kafkaGroupID == "" {
		kafkaGroupID = "analytics-pipeline"
	}

	kafkaTopics := os.Getenv("KAFKA_TOPICS")
	if kafkaTopics == "" {
		kafkaTopics = "fraud-engine.public.transactions"
	}
	topics := strings.Split(kafkaTopics, ",")

	store, err := cache.NewRedisStore(cfg.Redis.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer store.Close()

	metrics := NewRealTimeMetrics()

	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaCfg.Consumer.Return.Errors = true
	saramaCfg.Version = sarama.V3_0_0_0

	var consumerGroup sarama.ConsumerGroup
	for i := 0; i < 30; i++ {
		consumerGroup, err = sarama.NewConsumerGroup(brokers, kafkaGroupID, saramaCfg)
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("failed to connect to kafka, retrying")
		time.Sleep(5 * time.Second)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create kafka consumer group after retries")
	}
	defer consumerGroup.Close()

	handler := &analyticsHandler{metrics: metrics, store: store}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutdown signal received, stopping analytics pipeline")
		cancel()
	}()

	go handler.startMetricsReporter(ctx)

	log.Info().
		Strs("brokers", brokers).
		Strs("topics", topics).
		Str("group_id", kafkaGroupID).
		Msg("analytics pipeline consuming CDC events")

	for {
		if err := consumerGroup.Consume(ctx, topics, handler); err != nil {
			log.Error().Err(err).Msg("error from consumer")
		}
		if ctx.Err() != nil {
			log.Info().Msg("context cancelled, shutting down analytics pipeline")
			return
		}
	}
}

// analyticsHandler processes CDC events for analytics and audit.
type analyticsHandler struct {
	metrics *RealTimeMetrics
	store   *cache.RedisStore
}

func (h *analyticsHandler) Setup(sarama.ConsumerGroupSession) error {
	log.Info().Msg("analytics pipeline session started")
	return nil
}

func (h *analyticsHandler) Cleanup(sarama.ConsumerGroupSession) error {
	log.Info().Msg("analytics pipeline session ended")
	return nil
}

func (h *analyticsHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.processMessage(session.Context(), message)
			session.MarkMessage(message, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *analyticsHandler) processMessage(ctx context.Context, message *sarama.ConsumerMessage) {
	var debeziumMsg DebeziumMessage
	if err := json.Unmarshal(message.Value, &debeziumMsg); err != nil {
		log.Error().Err(err).Msg("failed to parse debezium message")
		return
	}

	var tx TransactionCDC
	if debeziumMsg.After != nil {
		if err := json.Unmarshal(debeziumMsg.After, &tx); err != nil {
			log.Error().Err(err).Msg("failed to parse transaction from CDC payload")
			return
		}
	}

	var prevTx *TransactionCDC
	if debeziumMsg.Before != nil {
		prevTx = &TransactionCDC{}
		if err := json.Unmarshal(debeziumMsg.Before, prevTx); err != nil {
			prevTx = nil
		}
	}

	event := h.createAnalyticsEvent(&debeziumMsg, &tx, prevTx)
	h.metrics.RecordEvent(event)
	h.logEvent(event)
	h.storeAuditEvent(ctx, event)
}

func (h *analyticsHandler) createAnalyticsEvent(msg *DebeziumMessage, tx *TransactionCDC, prevTx *TransactionCDC) *AnalyticsEvent {
	eventType := "unknown"
	switch msg.Op {
	case "c":
		eventType = "transaction_created"
	case "u":
		eventType = "transaction_updated"
	case "d":
		eventType = "transaction_deleted"
	case "r":
		eventType = "transaction_snapshot"
	}

	event := &AnalyticsEvent{
		EventType:      eventType,
		TransactionID:  tx.TransactionID,
		TenantID:       tx.TenantID,
		Vertical:       tx.Vertical,
		RiskLevel:      tx.RiskLevel,
		Recommendation: tx.Recommendation,
		Timestamp:      time.Now(),
		CDCTimestamp:   msg.TsMs,
		Metadata: map[string]interface{}{
			"table":     msg.Source.Table,
			"lsn":       msg.Source.LSN,
			"txId":      msg.Source.TxID,
			"connector": msg.Source.Connector,
		},
	}

	if prevTx != nil {
		event.PrevRiskLevel = prevTx.RiskLevel
	}

	return event
}

func (h *analyticsHandler) logEvent(event *AnalyticsEvent) {
	switch event.EventType {
	case "transaction_created":
		log.Info().
			Str("event", "new").
			Str("tx_id", event.TransactionID).
			Str("vertical", event.Vertical).
			Str("risk_level", event.RiskLevel).
			Msg("transaction captured")
	case "transaction_updated":
		log.Info().
			Str("event", "update").
			Str("tx_id", event.TransactionID).
			Str("risk_level", event.PrevRiskLevel+"->"+event.RiskLevel).
			Msg("transaction risk level changed")
	case "transaction_deleted":
		log.Warn().Str("event", "delete").Str("tx_id", event.TransactionID).Msg("transaction deleted")
	}
}

// storeAuditEvent keeps a bounded recent-events window in Redis for
// dashboard access. Longer-term retention (data lake, SIEM forwarding)
// is out of scope here; this is the audit trail's hot tail only.
func (h *analyticsHandler) storeAuditEvent(ctx context.Context, event *AnalyticsEvent) {
	if err := h.store.PushCapped(ctx, recentEventsKey, event, recentEventsCap); err != nil {
		log.Error().Err(err).Msg("failed to record audit event")
	}
}

func (h *analyticsHandler) startMetricsReporter(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			snapshot := h.metrics.GetSnapshot()
			log.Info().
				Int64("created", snapshot["transactions_created"].(int64)).
				Int64("updated", snapshot["transactions_updated"].(int64)).
				Float64("events_per_sec", snapshot["events_per_second"].(float64)).
				Msg("analytics pipeline metrics")
		case <-ctx.Done():
			return
		}
	}
}
