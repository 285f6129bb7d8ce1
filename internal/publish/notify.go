package publish

import (
	"context"

	"go.uber.org/multierr"

	"matching-client/internal/models"
)

type Notifier interface {
	Notify(ctx context.Context, summary *models.RunSummary) error
}

// MultiNotifier calls every notifier and combines their errors.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, summary *models.RunSummary) error {
	var err error
	for _, n := range m {
		err = multierr.Append(err, n.Notify(ctx, summary))
	}
	return err
}
