package fanout

import (
	"context"

	"auction-relay/internal/domain"
)

// LocalFanOut is the single-process FanOut: there is no shared roster and
// nothing to publish to.
type LocalFanOut struct{}

func NewLocalFanOut() *LocalFanOut {
	return &LocalFanOut{}
}

func (LocalFanOut) Reserve(ctx context.Context, roomID string, member domain.Member, capacity int) ([]domain.Member, error) {
	return nil, nil
}

func (LocalFanOut) Release(ctx context.Context, roomID string, member domain.Member) error {
	return nil
}

func (LocalFanOut) Memberships(ctx context.Context, instanceID string) (map[string][]string, error) {
	return nil, nil
}

func (LocalFanOut) Publish(ctx context.Context, event *domain.RelayEvent) error {
	return nil
}

func (LocalFanOut) Subscribe(ctx context.Context, handler domain.RelayEventHandler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (LocalFanOut) Close() error {
	return nil
}

var _ domain.FanOut = LocalFanOut{}
