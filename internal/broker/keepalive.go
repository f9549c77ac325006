package broker

import (
	"context"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// KeepAliveConfig controls the gateway session keep-alive loop.
type KeepAliveConfig struct {
	Interval    time.Duration // gap between successful tickles
	MaxInterval time.Duration // ceiling for the failure backoff
}

// DefaultKeepAliveConfig tickles every 2 minutes, backing off to 5 on failure.
var DefaultKeepAliveConfig = KeepAliveConfig{
	Interval:    2 * time.Minute,
	MaxInterval: 5 * time.Minute,
}

// KeepAlive tickles the gateway session on an interval until ctx is done.
// Failed tickles retry on an exponential backoff schedule; a failed session
// additionally attempts one reauthentication. Never fatal.
func KeepAlive(ctx context.Context, client Client, cfg KeepAliveConfig, logger *log.Logger) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultKeepAliveConfig.Interval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = DefaultKeepAliveConfig.MaxInterval
	}

	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = cfg.Interval / 4
	backoffCfg.MaxInterval = cfg.MaxInterval

	wait := cfg.Interval
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		if err := client.Tickle(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Printf("Session tickle failed: %v", err)
			if rerr := client.Reauthenticate(ctx); rerr != nil {
				logger.Printf("Reauthentication failed: %v", rerr)
			}
			sleep := backoffCfg.NextBackOff()
			if sleep == backoff.Stop {
				sleep = cfg.MaxInterval
			}
			wait = sleep
			continue
		}

		backoffCfg.Reset()
		wait = cfg.Interval
	}
}
