package notification

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/instructorledger/internal/config"
	eventdomain "github.com/smallbiznis/instructorledger/internal/events/domain"
	"github.com/smallbiznis/instructorledger/internal/providers/email"
	"github.com/smallbiznis/instructorledger/internal/providers/slack"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notification",
	fx.Provide(
		fx.Annotate(provideLogSink, fx.ResultTags(`group:"event_sinks"`)),
		fx.Annotate(provideEmailSink, fx.ResultTags(`group:"event_sinks"`)),
		fx.Annotate(provideStreamSink, fx.ResultTags(`group:"event_sinks"`)),
		fx.Annotate(provideSlackSink, fx.ResultTags(`group:"event_sinks"`)),
	),
)

func provideLogSink(log *zap.Logger) eventdomain.Sink {
	return NewLogSink(log)
}

// Disabled sinks are provided as nil and dropped by the dispatcher.
func provideEmailSink(cfg config.Config, provider email.Provider, policy *config.PolicyHolder) eventdomain.Sink {
	if !cfg.Email.Enabled() {
		return nil
	}
	return NewEmailSink(provider, cfg.Email.NotifyTo, policy)
}

func provideStreamSink(client *redis.Client) eventdomain.Sink {
	if client == nil {
		return nil
	}
	return NewStreamSink(client)
}

func provideSlackSink(cfg config.Config, provider slack.Provider, policy *config.PolicyHolder) eventdomain.Sink {
	if cfg.Slack.WebhookURL == "" {
		return nil
	}
	return NewSlackSink(provider, cfg.Slack.Channel, policy)
}
