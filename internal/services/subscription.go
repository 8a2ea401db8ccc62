package services

import (
	"context"
	"errors"
	"time"

	"auction-relay/internal/domain"
	"auction-relay/pkg/logger"
)

const defaultResubscribeDelay = 2 * time.Second

// RunSubscription keeps handler subscribed to fanOut until ctx is done,
// resubscribing after backbone failures. onError is called for every
// failed attempt and may be nil.
func RunSubscription(ctx context.Context, fanOut domain.FanOut, handler domain.RelayEventHandler,
	retryDelay time.Duration, onError func(error), log logger.Logger) error {
	if retryDelay <= 0 {
		retryDelay = defaultResubscribeDelay
	}

	for {
		err := fanOut.Subscribe(ctx, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errors.New("subscription ended")
		}

		if onError != nil {
			onError(err)
		}
		log.Warn("Backbone subscription lost, retrying", "retry_in", retryDelay.String(), "error", err)

		timer := time.NewTimer(retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}
