package ledger

import (
	"context"
	"time"

	"go.uber.org/fx"

	"github.com/studykit/entitlements/pkg/config"
)

func registerSweeper(lc fx.Lifecycle, s *Service, cfg *config.Config) {
	mins := cfg.Ledger.SweepIntervalMins
	if mins <= 0 {
		mins = 60
	}
	interval := time.Duration(mins) * time.Minute

	loopCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go s.runSweepLoop(loopCtx, interval)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			return nil
		},
	})
}

var Module = fx.Options(
	fx.Provide(New),
	fx.Invoke(registerSweeper),
)
