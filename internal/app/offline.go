package app

import (
	"context"

	"unibot/internal/config"
	"unibot/internal/storage"
	logx "unibot/pkg/logx"
)

// CheckConfig loads and validates the config at path without starting anything.
func CheckConfig(ctx context.Context, path string) (*config.Config, error) {
	m := config.NewManager(path)
	m.SetValidator(func(_ context.Context, cfg *config.Config) error { return checkMappings(cfg) })
	return m.Load(ctx)
}

// PendingTimers opens the configured store and lists up to limit persisted timers,
// soonest first.
func PendingTimers(ctx context.Context, path string, limit int, log logx.Logger) ([]storage.TimerRecord, int64, error) {
	cfg, err := CheckConfig(ctx, path)
	if err != nil {
		return nil, 0, err
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, 0, err
	}
	st, err := storage.Open(ctx, sc, log)
	if err != nil {
		return nil, 0, err
	}
	defer st.Close()

	total, err := st.CountTimers(ctx, storage.TimerFilter{})
	if err != nil {
		return nil, 0, err
	}
	recs, err := st.ListTimers(ctx, storage.TimerFilter{}, limit)
	return recs, total, err
}
