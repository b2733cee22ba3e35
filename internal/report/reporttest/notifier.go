// Package reporttest holds test doubles shared by the report packages.
package reporttest

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/smallbiznis/cardreport/internal/report/domain"
)

// Recorder is a Notifier that confirms every send and remembers the payloads.
// Set Reject to refuse delivery.
type Recorder struct {
	mu     sync.Mutex
	sent   []domain.Payload
	Reject bool
	Err    error
}

func (r *Recorder) record(p domain.Payload) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return false, r.Err
	}
	if r.Reject {
		return false, nil
	}
	r.sent = append(r.sent, p)
	return true, nil
}

func (r *Recorder) SendDaily(_ context.Context, p domain.Payload) (bool, error) {
	return r.record(p)
}

func (r *Recorder) SendWeekly(_ context.Context, p domain.Payload) (bool, error) {
	return r.record(p)
}

func (r *Recorder) SendMonthly(_ context.Context, p domain.Payload) (bool, error) {
	return r.record(p)
}

// Sent returns a copy of the delivered payloads in order.
func (r *Recorder) Sent() []domain.Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Payload(nil), r.sent...)
}

// SentOf filters delivered payloads by kind and granularity.
func (r *Recorder) SentOf(kind domain.PayloadKind, g domain.Granularity) []domain.Payload {
	var out []domain.Payload
	for _, p := range r.Sent() {
		if p.Kind == kind && p.Granularity == g {
			out = append(out, p)
		}
	}
	return out
}

// Reset forgets delivered payloads.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.sent = nil
	r.mu.Unlock()
}

// MockNotifier is a testify mock of domain.Notifier.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SendDaily(ctx context.Context, p domain.Payload) (bool, error) {
	args := m.Called(ctx, p)
	return args.Bool(0), args.Error(1)
}

func (m *MockNotifier) SendWeekly(ctx context.Context, p domain.Payload) (bool, error) {
	args := m.Called(ctx, p)
	return args.Bool(0), args.Error(1)
}

func (m *MockNotifier) SendMonthly(ctx context.Context, p domain.Payload) (bool, error) {
	args := m.Called(ctx, p)
	return args.Bool(0), args.Error(1)
}
