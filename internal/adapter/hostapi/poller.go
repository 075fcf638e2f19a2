package hostapi

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jgivc/modsync/internal/common"
)

type TaskGetter interface {
	GetTask(ctx context.Context, taskID string) (*Task, error)
}

// Poller waits for spawned tasks to reach a terminal state.
type Poller struct {
	tasks    TaskGetter
	interval time.Duration
	log      *slog.Logger
}

func NewPoller(tasks TaskGetter, interval time.Duration, log *slog.Logger) *Poller {
	if interval <= 0 {
		interval = time.Second
	}

	return &Poller{
		tasks:    tasks,
		interval: interval,
		log:      log.With(slog.String("item", "TaskPoller")),
	}
}

// Poll blocks until every task in refs is terminal. A task that ends in any
// state but finished yields common.ErrTaskFailed.
func (p *Poller) Poll(ctx context.Context, refs []TaskRef) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for _, ref := range refs {
		for {
			task, err := p.tasks.GetTask(ctx, ref.TaskID)
			if err != nil {
				return fmt.Errorf("cannot get task %s: %w", ref.TaskID, err)
			}

			if task.Terminal() {
				p.log.Info("Task finished", slog.String("task_id", ref.TaskID), slog.String("state", task.State))

				if task.State != TaskStateFinished {
					return fmt.Errorf("%w: %s is %s", common.ErrTaskFailed, ref.TaskID, task.State)
				}

				break
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	}

	return nil
}
