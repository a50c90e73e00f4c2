package intake

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/redis/go-redis/v9"
	compdomain "github.com/smallbiznis/instructorledger/internal/compensation/domain"
	"github.com/smallbiznis/instructorledger/internal/config"
	"github.com/smallbiznis/instructorledger/internal/intake/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

type mockService struct{ mock.Mock }

func (m *mockService) RecordLesson(ctx context.Context, evt domain.LessonCompleted) (domain.Result, error) {
	args := m.Called(ctx, evt)
	return args.Get(0).(domain.Result), args.Error(1)
}

func (m *mockService) ChangeProfile(ctx context.Context, evt domain.CompensationProfileChanged) error {
	return m.Called(ctx, evt).Error(0)
}

func msg(payload string) redis.XMessage {
	return redis.XMessage{ID: "1-0", Values: map[string]interface{}{"payload": payload}}
}

func TestHandleAcksAccordingToFailure(t *testing.T) {
	svc := &mockService{}
	c := &Consumer{svc: svc, log: zap.NewNop()}
	ctx := context.Background()

	svc.On("RecordLesson", ctx, mock.MatchedBy(func(e domain.LessonCompleted) bool { return e.LessonID == "ok" })).
		Return(domain.Result{}, nil).Once()
	svc.On("RecordLesson", ctx, mock.MatchedBy(func(e domain.LessonCompleted) bool { return e.LessonID == "missing" })).
		Return(domain.Result{}, compdomain.ErrProfileNotFound).Once()
	svc.On("RecordLesson", ctx, mock.MatchedBy(func(e domain.LessonCompleted) bool { return e.LessonID == "db" })).
		Return(domain.Result{}, errors.New("connection reset")).Once()

	ack, err := c.handle(ctx, domain.StreamLessonsCompleted, msg(`{"lesson_id":"ok","instructor_id":"i","completed_at":"2025-01-02T10:00:00Z","total_price":100}`))
	assert.True(t, ack)
	assert.NoError(t, err)

	ack, err = c.handle(ctx, domain.StreamLessonsCompleted, msg(`{"lesson_id":"missing"}`))
	assert.False(t, ack, "missing profiles stay pending for replay")
	assert.ErrorIs(t, err, compdomain.ErrProfileNotFound)

	ack, err = c.handle(ctx, domain.StreamLessonsCompleted, msg(`{"lesson_id":"db"}`))
	assert.False(t, ack, "transient failures stay pending")
	assert.Error(t, err)

	ack, err = c.handle(ctx, domain.StreamLessonsCompleted, msg(`{not json`))
	assert.True(t, ack)
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	ack, err = c.handle(ctx, domain.StreamLessonsCompleted, redis.XMessage{ID: "2-0", Values: map[string]interface{}{}})
	assert.True(t, ack)
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	svc.AssertExpectations(t)
}

func TestHandleProfileChange(t *testing.T) {
	svc := &mockService{}
	c := &Consumer{svc: svc, log: zap.NewNop()}
	ctx := context.Background()
	svc.On("ChangeProfile", ctx, mock.MatchedBy(func(e domain.CompensationProfileChanged) bool {
		return e.InstructorID == "ins-1" && e.ModelKind == "flat_fee" && e.MonthlyAmount != nil && *e.MonthlyAmount == 50000
	})).Return(compdomain.ErrProfileConflict).Once()

	ack, err := c.handle(ctx, domain.StreamCompensationChanged,
		msg(`{"instructor_id":"ins-1","model_kind":"flat_fee","monthly_amount":50000,"effective_from":"2025-02-01T00:00:00Z"}`))
	assert.True(t, ack)
	assert.ErrorIs(t, err, compdomain.ErrProfileConflict)
	svc.AssertExpectations(t)
}

func TestPermanentClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"validation", domain.ErrValidation, true},
		{"profile conflict", compdomain.ErrProfileConflict, true},
		{"profile not found", compdomain.ErrProfileNotFound, false},
		{"wrapped profile not found", fmt.Errorf("resolve: %w", compdomain.ErrProfileNotFound), false},
		{"transient", errors.New("connection reset"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Permanent(tc.err))
		})
	}
}

func TestNewConsumerDisabledWithoutRedis(t *testing.T) {
	assert.Nil(t, NewConsumer(testConfig(true), nil, &mockService{}, zap.NewNop()))
}

func testConfig(streams bool) config.Config {
	cfg := config.Config{}
	cfg.Inbound.StreamsEnabled = streams
	cfg.Inbound.ConsumerGroup = "test"
	return cfg
}
