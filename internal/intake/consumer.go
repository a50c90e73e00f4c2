package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	compdomain "github.com/smallbiznis/instructorledger/internal/compensation/domain"
	"github.com/smallbiznis/instructorledger/internal/config"
	"github.com/smallbiznis/instructorledger/internal/intake/domain"
	ledgerdomain "github.com/smallbiznis/instructorledger/internal/ledger/domain"
	"github.com/smallbiznis/instructorledger/internal/split"
	"go.uber.org/zap"
)

const (
	batchSize  = 50
	blockFor   = 2 * time.Second
	payloadKey = "payload"
	retryPause = time.Second

	// Pending messages idle this long are claimed and handled again. A lesson
	// waiting on a profile backfill is picked up this way.
	replayIdle  = time.Minute
	replayEvery = time.Minute
)

// Consumer reads inbound lesson and profile events from Redis Streams through
// a consumer group. Messages stay pending until handled or found unprocessable,
// and pending messages are replayed periodically.
type Consumer struct {
	client  *redis.Client
	svc     domain.Service
	log     *zap.Logger
	group   string
	name    string
	streams []string
}

// NewConsumer returns nil when Redis or inbound streams are not configured.
func NewConsumer(cfg config.Config, client *redis.Client, svc domain.Service, log *zap.Logger) *Consumer {
	if client == nil || !cfg.Inbound.StreamsEnabled {
		return nil
	}
	host, _ := os.Hostname()
	if host == "" {
		host = "ledgerd"
	}
	return &Consumer{
		client:  client,
		svc:     svc,
		log:     log.Named("intake.consumer"),
		group:   strings.TrimSpace(cfg.Inbound.ConsumerGroup),
		name:    fmt.Sprintf("%s-%d", host, os.Getpid()),
		streams: []string{domain.StreamLessonsCompleted, domain.StreamCompensationChanged},
	}
}

// EnsureGroups creates the consumer group on every stream, tolerating existing groups.
func (c *Consumer) EnsureGroups(ctx context.Context) error {
	for _, stream := range c.streams {
		err := c.client.XGroupCreateMkStream(ctx, stream, c.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return err
		}
	}
	return nil
}

// Poll reads one batch and returns how many messages were acknowledged.
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	args := make([]string, 0, len(c.streams)*2)
	args = append(args, c.streams...)
	for range c.streams {
		args = append(args, ">")
	}

	res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  args,
		Count:    batchSize,
		Block:    blockFor,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	acked := 0
	for _, stream := range res {
		n, err := c.process(ctx, stream.Stream, stream.Messages)
		acked += n
		if err != nil {
			return acked, err
		}
	}
	return acked, nil
}

// Replay claims messages left pending longer than replayIdle, including those
// of consumers that went away, and handles them again.
func (c *Consumer) Replay(ctx context.Context) (int, error) {
	acked := 0
	for _, stream := range c.streams {
		msgs, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   stream,
			Group:    c.group,
			Consumer: c.name,
			MinIdle:  replayIdle,
			Start:    "0-0",
			Count:    batchSize,
		}).Result()
		if err != nil {
			return acked, err
		}
		n, err := c.process(ctx, stream, msgs)
		acked += n
		if err != nil {
			return acked, err
		}
	}
	return acked, nil
}

func (c *Consumer) process(ctx context.Context, stream string, msgs []redis.XMessage) (int, error) {
	acked := 0
	for _, msg := range msgs {
		ack, err := c.handle(ctx, stream, msg)
		if err != nil {
			c.log.Warn("intake.message_failed",
				zap.String("stream", stream),
				zap.String("message_id", msg.ID),
				zap.Bool("acked", ack),
				zap.Error(err),
			)
		}
		if !ack {
			continue
		}
		if err := c.client.XAck(ctx, stream, c.group, msg.ID).Err(); err != nil {
			return acked, err
		}
		acked++
	}
	return acked, nil
}

// Run polls until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	if err := c.EnsureGroups(ctx); err != nil {
		c.log.Error("intake.group_create_failed", zap.Error(err))
		return
	}
	var lastReplay time.Time
	for {
		if ctx.Err() != nil {
			return
		}
		if time.Since(lastReplay) >= replayEvery {
			if n, err := c.Replay(ctx); err != nil && ctx.Err() == nil {
				c.log.Error("intake.replay_failed", zap.Error(err))
			} else if n > 0 {
				c.log.Info("intake.replayed", zap.Int("acked", n))
			}
			lastReplay = time.Now()
		}
		if _, err := c.Poll(ctx); err != nil && ctx.Err() == nil {
			c.log.Error("intake.poll_failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryPause):
			}
		}
	}
}

// handle reports whether msg can be acknowledged, along with any processing error.
func (c *Consumer) handle(ctx context.Context, stream string, msg redis.XMessage) (bool, error) {
	raw, ok := msg.Values[payloadKey].(string)
	if !ok || strings.TrimSpace(raw) == "" {
		return true, domain.ErrInvalidPayload
	}

	var err error
	switch stream {
	case domain.StreamLessonsCompleted:
		var evt domain.LessonCompleted
		if decodeErr := json.Unmarshal([]byte(raw), &evt); decodeErr != nil {
			return true, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, decodeErr)
		}
		var res domain.Result
		res, err = c.svc.RecordLesson(ctx, evt)
		if err == nil {
			c.log.Debug("intake.lesson_recorded",
				zap.String("lesson_id", evt.LessonID),
				zap.Bool("duplicate", res.Duplicate),
			)
		}
	case domain.StreamCompensationChanged:
		var evt domain.CompensationProfileChanged
		if decodeErr := json.Unmarshal([]byte(raw), &evt); decodeErr != nil {
			return true, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, decodeErr)
		}
		err = c.svc.ChangeProfile(ctx, evt)
	default:
		return true, fmt.Errorf("unknown stream %q", stream)
	}

	if err == nil {
		return true, nil
	}
	return Permanent(err), err
}

// Permanent reports whether retrying err can never succeed. A missing profile
// is not permanent: the profile may be backfilled and the lesson replayed.
func Permanent(err error) bool {
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, compdomain.ErrValidation),
		errors.Is(err, ledgerdomain.ErrValidation),
		errors.Is(err, compdomain.ErrProfileConflict),
		errors.Is(err, split.ErrNegativePrice),
		errors.Is(err, split.ErrProfileMismatch),
		errors.Is(err, split.ErrUnknownModel):
		return true
	default:
		return false
	}
}
