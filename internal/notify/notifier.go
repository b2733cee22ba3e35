// Package notify implements the outbound report channels.
package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/smallbiznis/cardreport/internal/providers/email"
	"github.com/smallbiznis/cardreport/internal/providers/slack"
	"github.com/smallbiznis/cardreport/internal/report/domain"
)

// sender adapts a single delivery function to domain.Notifier.
type sender func(ctx context.Context, p domain.Payload) error

func (s sender) deliver(ctx context.Context, p domain.Payload) (bool, error) {
	if err := s(ctx, p); err != nil {
		return false, err
	}
	return true, nil
}

func (s sender) SendDaily(ctx context.Context, p domain.Payload) (bool, error) {
	return s.deliver(ctx, p)
}

func (s sender) SendWeekly(ctx context.Context, p domain.Payload) (bool, error) {
	return s.deliver(ctx, p)
}

func (s sender) SendMonthly(ctx context.Context, p domain.Payload) (bool, error) {
	return s.deliver(ctx, p)
}

// Slack posts rendered text through a slack provider.
func Slack(provider slack.Provider, channel string, r *Renderer) domain.Notifier {
	return sender(func(ctx context.Context, p domain.Payload) error {
		return provider.PostMessage(ctx, channel, r.Text(p))
	})
}

// Email sends the rendered report template to fixed recipients.
func Email(provider email.Provider, to []string, r *Renderer) domain.Notifier {
	return sender(func(ctx context.Context, p domain.Payload) error {
		name, data := r.Template(p)
		return provider.SendTemplate(ctx, to, name, data)
	})
}

// Multi fans a payload out to every channel. Delivery counts as confirmed
// when at least one channel confirms it.
type Multi struct {
	channels []domain.Notifier
	log      *zap.Logger
}

func NewMulti(log *zap.Logger, channels ...domain.Notifier) *Multi {
	if log == nil {
		log = zap.NewNop()
	}
	return &Multi{channels: channels, log: log.Named("notify")}
}

func (m *Multi) SendDaily(ctx context.Context, p domain.Payload) (bool, error) {
	return m.fanOut(ctx, p)
}

func (m *Multi) SendWeekly(ctx context.Context, p domain.Payload) (bool, error) {
	return m.fanOut(ctx, p)
}

func (m *Multi) SendMonthly(ctx context.Context, p domain.Payload) (bool, error) {
	return m.fanOut(ctx, p)
}

func (m *Multi) fanOut(ctx context.Context, p domain.Payload) (bool, error) {
	var (
		delivered bool
		errs      error
	)
	for i, ch := range m.channels {
		ok, err := domain.Send(ctx, ch, p)
		if err != nil {
			errs = errors.Join(errs, err)
			m.log.Warn("channel delivery failed",
				zap.Int("channel", i),
				zap.String("path", p.Path),
				zap.Error(err),
			)
			continue
		}
		delivered = delivered || ok
	}
	if delivered {
		return true, nil
	}
	return false, errs
}

// NoOp accepts nothing; every send reports not delivered.
type NoOp struct{}

func (NoOp) SendDaily(context.Context, domain.Payload) (bool, error)   { return false, nil }
func (NoOp) SendWeekly(context.Context, domain.Payload) (bool, error)  { return false, nil }
func (NoOp) SendMonthly(context.Context, domain.Payload) (bool, error) { return false, nil }
