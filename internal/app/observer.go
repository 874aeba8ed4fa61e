package app

import (
	"log/slog"

	"github.com/nuetzliches/subwarm/internal/journal"
	"github.com/nuetzliches/subwarm/internal/preload"
)

type outcomeNotifier interface {
	Notify(preload.Outcome)
}

type eventStream interface {
	PublishAttempt(preload.StrategyAttempt)
	PublishOutcome(preload.Outcome)
}

// preloadObservers collects everything that listens to controller events.
// Nil members are skipped.
type preloadObservers struct {
	metrics  *runtimeMetrics
	journal  journal.Store
	notifier outcomeNotifier
	stream   eventStream
	logger   *slog.Logger
}

func (o preloadObservers) hooks() preload.Hooks {
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	return preload.Hooks{
		OnEnqueue: func(_ string, res preload.EnqueueResult) {
			o.metrics.observeEnqueue(res)
		},
		OnAttempt: func(a preload.StrategyAttempt) {
			o.metrics.observeAttempt(a)
			if o.journal != nil {
				if err := o.journal.Record(journal.FromAttempt(a)); err != nil {
					o.metrics.incJournalErrors()
					logger.Warn("journal_record_failed", slog.String("video_id", a.VideoID), slog.Any("err", err))
				}
			}
			if o.stream != nil {
				o.stream.PublishAttempt(a)
			}
		},
		OnOutcome: func(out preload.Outcome) {
			o.metrics.observeOutcome(out)
			if o.journal != nil {
				if err := o.journal.Record(journal.FromOutcome(out)); err != nil {
					o.metrics.incJournalErrors()
					logger.Warn("journal_record_failed", slog.String("video_id", out.VideoID), slog.Any("err", err))
				}
			}
			if o.notifier != nil {
				o.notifier.Notify(out)
			}
			if o.stream != nil {
				o.stream.PublishOutcome(out)
			}
		},
	}
}
