package notify

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/cardreport/internal/config"
	"github.com/smallbiznis/cardreport/internal/providers/email"
	"github.com/smallbiznis/cardreport/internal/providers/slack"
	"github.com/smallbiznis/cardreport/internal/report/domain"
)

type Params struct {
	fx.In

	Config config.Config
	Email  email.Provider `optional:"true"`
	Log    *zap.Logger
}

// NewFromConfig assembles the configured channels. It returns a nil Notifier
// when nothing is configured, which turns alerts and dispatch sends off.
func NewFromConfig(p Params) domain.Notifier {
	r := NewRenderer(p.Config.Notify.Currency)
	var channels []domain.Notifier

	if url := strings.TrimSpace(p.Config.Notify.WebhookURL); url != "" {
		client := &http.Client{Timeout: 10 * time.Second}
		channels = append(channels, Slack(slack.NewWebhook(url, client), p.Config.Notify.WebhookChannel, r))
	}
	if len(p.Config.Notify.EmailTo) > 0 && p.Email != nil {
		if _, noop := p.Email.(*email.NoOpProvider); !noop {
			channels = append(channels, Email(p.Email, p.Config.Notify.EmailTo, r))
		}
	}

	switch len(channels) {
	case 0:
		p.Log.Warn("no notification channel configured; alerts and report dispatch are disabled")
		return nil
	case 1:
		return channels[0]
	default:
		return NewMulti(p.Log, channels...)
	}
}

var Module = fx.Module("notify",
	fx.Provide(NewFromConfig),
)
