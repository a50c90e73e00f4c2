package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/instructorledger/internal/config"
	eventdomain "github.com/smallbiznis/instructorledger/internal/events/domain"
	"github.com/smallbiznis/instructorledger/internal/providers/email"
	"github.com/smallbiznis/instructorledger/internal/providers/slack"
	"go.uber.org/zap"
)

const (
	StreamLedgerEvents = "ledger.events"
	streamMaxLen       = 100000
)

// LogSink writes every event to the structured log.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log.Named("notification.log")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, evt eventdomain.Envelope) error {
	s.log.Info("notification.event",
		zap.String("event_id", evt.ID.String()),
		zap.String("event_type", evt.Type),
		zap.String("aggregate_type", evt.AggregateType),
		zap.String("aggregate_id", evt.AggregateID),
		zap.Any("payload", evt.Payload),
	)
	return nil
}

// EmailSink mails the school office about reminder levels and suspensions.
type EmailSink struct {
	provider email.Provider
	to       []string
	policy   *config.PolicyHolder
}

func NewEmailSink(provider email.Provider, to []string, policy *config.PolicyHolder) *EmailSink {
	return &EmailSink{provider: provider, to: to, policy: policy}
}

func (s *EmailSink) Name() string { return "email" }

func (s *EmailSink) Deliver(ctx context.Context, evt eventdomain.Envelope) error {
	var templateName string
	switch evt.Type {
	case eventdomain.TypeReminderIssued:
		level, _ := evt.Payload["level"].(string)
		// the suspension level is mailed from its own event
		if level != "reminder" && level != "registered_letter_warning" {
			return nil
		}
		templateName = level
	case eventdomain.TypeSuspensionTriggered:
		templateName = "suspension_triggered"
	default:
		return nil
	}

	policy := s.policy.Get()
	data := map[string]interface{}{
		"obligation_id": stringValue(evt.Payload["obligation_id"]),
		"instructor_id": stringValue(evt.Payload["instructor_id"]),
		"amount":        FormatAmount(int64Value(evt.Payload["amount"]), policy.MinorUnitsPerUnit),
		"currency":      policy.Currency,
		"due_date":      stringValue(evt.Payload["due_date"]),
	}
	return s.provider.SendTemplate(ctx, s.to, templateName, data)
}

// StreamSink appends every event to a Redis stream for downstream consumers.
type StreamSink struct {
	client *redis.Client
	stream string
}

func NewStreamSink(client *redis.Client) *StreamSink {
	return &StreamSink{client: client, stream: StreamLedgerEvents}
}

func (s *StreamSink) Name() string { return "stream" }

func (s *StreamSink) Deliver(ctx context.Context, evt eventdomain.Envelope) error {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return err
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"id":             evt.ID.String(),
			"type":           evt.Type,
			"aggregate_type": evt.AggregateType,
			"aggregate_id":   evt.AggregateID,
			"payload":        string(payload),
			"created_at":     evt.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		},
	}).Err()
}

// SlackSink posts suspension and settlement summaries to the accounting channel.
type SlackSink struct {
	provider slack.Provider
	channel  string
	policy   *config.PolicyHolder
}

func NewSlackSink(provider slack.Provider, channel string, policy *config.PolicyHolder) *SlackSink {
	return &SlackSink{provider: provider, channel: channel, policy: policy}
}

func (s *SlackSink) Name() string { return "slack" }

func (s *SlackSink) Deliver(ctx context.Context, evt eventdomain.Envelope) error {
	var message string
	switch evt.Type {
	case eventdomain.TypeSuspensionTriggered:
		message = fmt.Sprintf(":warning: Suspension requested for instructor %s (obligation %s)",
			stringValue(evt.Payload["instructor_id"]),
			stringValue(evt.Payload["obligation_id"]),
		)
	case eventdomain.TypeSettlementCompleted:
		policy := s.policy.Get()
		ids, _ := evt.Payload["obligation_ids"].([]interface{})
		message = fmt.Sprintf("Batch %s settled %d obligations, %s %s via %s",
			stringValue(evt.Payload["reference"]),
			len(ids),
			FormatAmount(int64Value(evt.Payload["total_amount"]), policy.MinorUnitsPerUnit),
			policy.Currency,
			stringValue(evt.Payload["payment_method"]),
		)
	default:
		return nil
	}
	return s.provider.PostMessage(ctx, s.channel, message)
}

// FormatAmount renders minor units as a fixed two-decimal amount.
func FormatAmount(minor int64, minorPerUnit int64) string {
	if minorPerUnit <= 0 {
		minorPerUnit = 100
	}
	return decimal.NewFromInt(minor).Div(decimal.NewFromInt(minorPerUnit)).StringFixed(2)
}

func stringValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// int64Value accepts the shapes a JSON payload takes after a database round trip.
func int64Value(v interface{}) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	case json.Number:
		parsed, _ := val.Int64()
		return parsed
	case string:
		parsed, _ := strconv.ParseInt(val, 10, 64)
		return parsed
	default:
		return 0
	}
}
