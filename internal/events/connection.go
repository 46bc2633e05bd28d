package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// DialOptions configures the broker connection attempt loop.
type DialOptions struct {
	URL      string
	Attempts int
	Delay    time.Duration
	Logger   *slog.Logger
}

const maxDialDelay = 60 * time.Second

// DialWithRetry connects to the broker with exponential backoff, respecting
// context cancellation for graceful shutdown.
func DialWithRetry(ctx context.Context, opts DialOptions) (*amqp091.Connection, error) {
	var lastErr error

	for i := 1; i <= opts.Attempts; i++ {
		conn, err := amqp091.Dial(opts.URL)
		if err == nil {
			if i > 1 {
				opts.Logger.Info("amqp connected", slog.Int("attempt", i))
			}
			return conn, nil
		}
		lastErr = err

		sleep := opts.Delay * time.Duration(math.Pow(2, float64(i-1)))
		if sleep > maxDialDelay {
			sleep = maxDialDelay
		}

		opts.Logger.Warn("amqp dial failed",
			slog.Int("attempt", i),
			slog.Duration("sleep", sleep),
			slog.Any("error", err),
		)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.New("dial cancelled: " + ctx.Err().Error())
		case <-timer.C:
		}
	}

	return nil, fmt.Errorf("failed to connect to AMQP broker after %d attempts: %w",
		opts.Attempts, lastErr)
}
