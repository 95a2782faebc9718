package scheduler

import (
	"context"
	"log/slog"

	"github.com/mvasquez/taskgraph/internal/store"
)

// Recover runs once at startup, before the Dispatcher begins accepting
// wake-ups. It returns every RUNNING task -- left behind by a prior
// crash -- to QUEUED, making it re-claimable on the next dispatch sweep.
func Recover(ctx context.Context, st store.Store, logger *slog.Logger) (int, error) {
	n, err := st.ResetRunningToQueued(ctx)
	if err != nil {
		return 0, err
	}
	logger.Info("recovery: reset tasks from RUNNING to QUEUED", "count", n)
	return n, nil
}
