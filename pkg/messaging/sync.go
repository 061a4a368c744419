package messaging

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ostia/ostia-node/pkg/nostr"
)

const (
	syncCheckpointKey = "last_sync_time"
	syncLookback      = 24 * time.Hour
	syncOverlap       = 5 * time.Second
	syncFetchTimeout  = 15 * time.Second
	syncRetryDelay    = 2 * time.Second
)

// SyncReport summarizes one offline sync pass.
type SyncReport struct {
	Fetched       int             `json:"fetched"`
	NewMessages   int             `json:"new_messages"`
	Checkpoint    int64           `json:"checkpoint"`
	Notifications []*Notification `json:"-"`
}

// SyncManager recovers messages published while this client was offline.
type SyncManager struct {
	svc *Service
}

func newSyncManager(svc *Service) *SyncManager {
	return &SyncManager{svc: svc}
}

// Checkpoint returns the persisted sync checkpoint, or zero when none exists.
func (sm *SyncManager) Checkpoint() int64 {
	value, ok, err := sm.svc.store.GetCache(syncCheckpointKey)
	if err != nil || !ok {
		return 0
	}
	ts, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return ts
}

// since computes the window start: a small overlap behind the checkpoint to
// absorb relay clock skew, bounded by the 24-hour lookback when the
// checkpoint is missing or stale.
func (sm *SyncManager) since(now time.Time) int64 {
	floor := now.Add(-syncLookback).Unix()
	checkpoint := sm.Checkpoint()
	if checkpoint == 0 {
		return floor
	}
	since := checkpoint - int64(syncOverlap.Seconds())
	if since < floor {
		return floor
	}
	return since
}

// SyncOffline fetches gift wraps addressed to us since the checkpoint and
// runs them through the inbound pipeline. whitelist lists the senders to
// accept; nil accepts ourselves and stored contacts. The checkpoint advances
// only when at least one genuinely new message was stored, so a failed or
// empty pass is retried over the same window next time.
func (sm *SyncManager) SyncOffline(ctx context.Context, whitelist []string) (*SyncReport, error) {
	svc := sm.svc
	keys, err := svc.requireInit()
	if err != nil {
		return nil, err
	}
	now := time.Now()

	filter := nostr.Filter{
		Kinds: []int{nostr.KindGiftWrap},
		PTags: []string{keys.PublicKeyHex()},
		Since: sm.since(now),
	}

	events, err := svc.pool.Fetch(ctx, []nostr.Filter{filter}, syncFetchTimeout)
	if err != nil {
		svc.log.Warn("sync fetch failed, retrying once", zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrRelayTimeout, ctx.Err())
		case <-time.After(syncRetryDelay):
		}
		events, err = svc.pool.Fetch(ctx, []nostr.Filter{filter}, syncFetchTimeout)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRelayNetwork, err)
		}
	}

	var wl map[string]bool
	if whitelist != nil {
		wl = make(map[string]bool, len(whitelist))
		for _, pk := range whitelist {
			pubHex, _, err := nostr.ParsePublicKey(pk)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
			}
			wl[pubHex] = true
		}
	}

	report := &SyncReport{Fetched: len(events), Checkpoint: sm.Checkpoint()}
	for _, ev := range events {
		res, err := svc.processGiftWrap(ev, wl, false)
		if err != nil {
			svc.log.Warn("sync pipeline error", zap.String("id", ev.ID), zap.Error(err))
			continue
		}
		if res.inserted {
			report.NewMessages++
		}
		if res.notification != nil {
			report.Notifications = append(report.Notifications, res.notification)
			svc.notifyLive(*res.notification)
		}
	}

	if report.NewMessages > 0 {
		checkpoint := now.Unix()
		if err := svc.store.SetCache(syncCheckpointKey, strconv.FormatInt(checkpoint, 10), 0); err != nil {
			svc.log.Warn("failed to persist sync checkpoint", zap.Error(err))
		} else {
			report.Checkpoint = checkpoint
		}
	}

	svc.log.Info("offline sync complete",
		zap.Int("fetched", report.Fetched),
		zap.Int("new", report.NewMessages))
	return report, nil
}
