package recognition

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrPollTimeout is returned when a job is still running after the timeout
var ErrPollTimeout = errors.New("timed out waiting for label detection job")

// errKeepPolling tells poll that the job has not finished yet
var errKeepPolling = errors.New("job still in progress")

// PollOptions bounds the wait on an asynchronous job. The pause doubles
// after every attempt: 5s, 10s, 20s, 30s, 30s... with the defaults.
type PollOptions struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Timeout         time.Duration // zero means wait until ctx is done
}

// DefaultPollOptions matches the config defaults
func DefaultPollOptions() PollOptions {
	return PollOptions{
		InitialInterval: 5 * time.Second,
		MaxInterval:     30 * time.Second,
		Timeout:         30 * time.Minute,
	}
}

// poll calls check until it returns something other than errKeepPolling,
// sleeping with exponential backoff in between.
func poll(ctx context.Context, opts PollOptions, check func(ctx context.Context) error) error {
	parent := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	maxInterval := max(opts.MaxInterval, opts.InitialInterval)
	pause := opts.InitialInterval
	for {
		err := check(ctx)
		if !errors.Is(err, errKeepPolling) {
			// A check cut short by the timeout is still a timeout
			if err != nil && ctx.Err() != nil && parent.Err() == nil {
				return fmt.Errorf("%w: %v", ErrPollTimeout, err)
			}
			return err
		}

		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			if parent.Err() != nil {
				return parent.Err()
			}
			return ErrPollTimeout
		case <-timer.C:
		}

		pause *= 2
		if pause > maxInterval {
			pause = maxInterval
		}
	}
}
