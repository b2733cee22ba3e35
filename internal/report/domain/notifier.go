package domain

import "context"

// Notifier is the outbound notification channel. A false result or an error
// means the message was not confirmed and no sent/alert flag may be raised.
type Notifier interface {
	SendDaily(ctx context.Context, p Payload) (bool, error)
	SendWeekly(ctx context.Context, p Payload) (bool, error)
	SendMonthly(ctx context.Context, p Payload) (bool, error)
}

// Send routes p to the channel method matching its granularity.
func Send(ctx context.Context, n Notifier, p Payload) (bool, error) {
	switch p.Granularity {
	case GranularityDaily:
		return n.SendDaily(ctx, p)
	case GranularityWeekly:
		return n.SendWeekly(ctx, p)
	case GranularityMonthly:
		return n.SendMonthly(ctx, p)
	default:
		return false, NewError(KindValidation, "notify", p.Path, ErrInvalidGranularity)
	}
}
