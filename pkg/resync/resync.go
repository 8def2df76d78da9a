// Package resync provides the poll fallback for degraded live delivery:
// while the push channel is not connected, the active conversation is
// refreshed from the history endpoint on a cron schedule. Historical fetches
// keep working when the channel cannot reconnect, so the view stays usable,
// just not instant.
package resync

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/adhocore/gronx"

	"github.com/TernFolbaek/anthra-sync/pkg/logger"
)

// Service schedules refreshes of the active conversation. Disabled services
// are inert; Start and Stop are still safe to call.
type Service struct {
	enabled  bool
	schedule string

	degraded func() bool
	refresh  func(context.Context) error

	running atomic.Bool
	done    chan struct{}
}

func NewService(schedule string, enabled bool) *Service {
	return &Service{
		enabled:  enabled,
		schedule: schedule,
	}
}

// SetDegradedCheck installs the predicate deciding whether live delivery is
// currently degraded. Typically wraps live.Channel.State.
func (s *Service) SetDegradedCheck(fn func() bool) {
	s.degraded = fn
}

// SetRefreshFunc installs the refresh callback. Typically
// conversation.Controller.Refresh.
func (s *Service) SetRefreshFunc(fn func(context.Context) error) {
	s.refresh = fn
}

// Start validates the schedule and begins the poll loop.
func (s *Service) Start(ctx context.Context) error {
	if !s.enabled {
		return nil
	}
	if s.degraded == nil || s.refresh == nil {
		return fmt.Errorf("resync service not wired")
	}
	if !gronx.New().IsValid(s.schedule) {
		return fmt.Errorf("invalid resync schedule %q", s.schedule)
	}
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}
	// Fresh channel per run, so the service can be started again after Stop.
	s.done = make(chan struct{})

	logger.InfoCF("resync", "poll fallback enabled", map[string]any{"schedule": s.schedule})
	go s.loop(ctx, s.done)
	return nil
}

// Stop halts the poll loop. Idempotent.
func (s *Service) Stop() {
	if s.running.CompareAndSwap(true, false) {
		close(s.done)
	}
}

func (s *Service) loop(ctx context.Context, done <-chan struct{}) {
	for {
		next, err := gronx.NextTick(s.schedule, false)
		if err != nil {
			logger.ErrorCF("resync", "schedule evaluation failed", map[string]any{"error": err.Error()})
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-time.After(time.Until(next)):
		}

		if !s.degraded() {
			continue
		}
		if err := s.refresh(ctx); err != nil {
			logger.WarnCF("resync", "refresh failed", map[string]any{"error": err.Error()})
		} else {
			logger.DebugC("resync", "active conversation refreshed")
		}
	}
}
