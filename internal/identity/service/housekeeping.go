package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/nativeid/internal/identity/store"
)

// HousekeepingService periodically clears expired MFA tokens, authorization codes, invites and
// signing keys. It runs outside the engines.
type HousekeepingService struct {
	Store    store.Store
	Logger   *slog.Logger
	Interval time.Duration
	Clock    Clock

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService defaults a non-positive interval to one hour.
func NewHousekeepingService(s store.Store, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &HousekeepingService{
		Store:    s,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs a cleanup immediately and then on every tick until Stop.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping started", slog.Duration("interval", s.Interval))
}

// Stop blocks until an in-progress cleanup has finished.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.Cleanup(context.Background())
	for {
		select {
		case <-ticker.C:
			s.Cleanup(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// Cleanup performs one pass. Each step is independent; a failing step does not stop the others.
func (s *HousekeepingService) Cleanup(ctx context.Context) map[string]int64 {
	now := s.Clock.Now()
	steps := []struct {
		name string
		fn   func(context.Context, time.Time) (int64, error)
	}{
		{"mfa_tokens", s.Store.Credentials().ClearExpiredMFATokens},
		{"authorization_codes", s.Store.Authorizations().ClearExpiredCodes},
		{"invites", s.Store.Invites().DeleteExpiredInvites},
		{"signing_keys", s.Store.SigningKeys().DeleteExpiredSigningKeys},
	}

	cleared := make(map[string]int64, len(steps))
	for _, step := range steps {
		n, err := step.fn(ctx, now)
		if err != nil {
			s.Logger.Error("housekeeping step failed", slog.String("step", step.name), slog.Any("error", err))
			continue
		}
		cleared[step.name] = n
	}
	s.Logger.Info("housekeeping completed",
		slog.Int64("mfa_tokens", cleared["mfa_tokens"]),
		slog.Int64("authorization_codes", cleared["authorization_codes"]),
		slog.Int64("invites", cleared["invites"]),
		slog.Int64("signing_keys", cleared["signing_keys"]),
	)
	return cleared
}
