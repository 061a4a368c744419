package messaging

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	monitorInterval    = 30 * time.Second
	monitorSettleDelay = 5 * time.Second
	monitorMaxStrikes  = 3
	reconnectAttempts  = 5
	reconnectBaseWait  = 2 * time.Second
)

// verifyRelayConnections reports whether at least half of the configured
// relays are connected. An empty pool is never healthy.
func (s *Service) verifyRelayConnections() bool {
	total := len(s.pool.Relays())
	if total == 0 {
		return false
	}
	return s.pool.ConnectedCount()*2 >= total
}

// unhealthyRelays probes every pool relay and returns the disconnected ones.
func (s *Service) unhealthyRelays() []string {
	var out []string
	for _, url := range s.pool.Relays() {
		if !s.pool.IsConnected(url) {
			out = append(out, url)
		}
	}
	return out
}

// reconnectWithBackoff retries pool connection with exponential backoff
// until the healthy threshold is reached or the attempts are exhausted.
func (s *Service) reconnectWithBackoff(ctx context.Context) error {
	for attempt := 1; attempt <= reconnectAttempts; attempt++ {
		wait := reconnectBaseWait * (1 << (attempt - 1))
		s.log.Info("reconnect attempt",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait))

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrRelayTimeout, ctx.Err())
		case <-time.After(wait):
		}

		s.pool.Connect(ctx)
		if s.verifyRelayConnections() {
			s.log.Info("relay connections recovered",
				zap.Int("connected", s.pool.ConnectedCount()))
			return nil
		}
	}
	return ErrNoHealthyRelays
}

// startHealthMonitor launches the background relay health job. Each cycle
// probes every pool relay; if any is disconnected the whole pool reconnects,
// settles, and the connected count is logged. A cycle that ends with at
// least one relay still unhealthy counts as a strike, and three consecutive
// strikes stop the monitor for good; Initialize or StartListener starts a
// new one.
func (s *Service) startHealthMonitor() {
	if !s.monitorRunning.CompareAndSwap(false, true) {
		return
	}

	go func() {
		defer s.monitorRunning.Store(false)

		ticker := time.NewTicker(s.monitorEvery)
		defer ticker.Stop()

		strikes := 0
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
			}

			failing := s.unhealthyRelays()
			if len(failing) == 0 {
				strikes = 0
				continue
			}

			s.log.Warn("unhealthy relays detected, reconnecting",
				zap.Strings("relays", failing))

			ctx, cancel := context.WithTimeout(context.Background(), s.monitorEvery)
			s.pool.Connect(ctx)
			cancel()

			select {
			case <-s.done:
				return
			case <-time.After(s.monitorSettle):
			}

			s.log.Info("relay health after reconnect",
				zap.Int("connected", s.pool.ConnectedCount()),
				zap.Int("total", len(s.pool.Relays())))

			if len(s.unhealthyRelays()) == 0 {
				strikes = 0
				continue
			}

			strikes++
			if strikes >= monitorMaxStrikes {
				s.log.Error("relay health monitor giving up",
					zap.Int("strikes", strikes))
				return
			}
		}
	}()
}
