package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler runs every adapter on its own tick. All adapters share a single measurement source,
// so jobs are serialized and at most one update is in flight at any time.
type Scheduler struct {
	mu       sync.Mutex
	cron     *cron.Cron
	interval time.Duration
	adapters []Adapter
}

func NewScheduler(ctx context.Context, interval time.Duration) *Scheduler {
	l := cronLogger{log: logging.GetFromContext(ctx)}

	return &Scheduler{
		cron:     cron.New(cron.WithLogger(l), cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l))),
		interval: interval,
	}
}

func (s *Scheduler) Add(adapters ...Adapter) {
	s.adapters = append(s.adapters, adapters...)
}

// Start runs every adapter once and then schedules them. Jobs run with ctx until Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	for _, a := range s.adapters {
		s.run(ctx, a)
	}

	spec := fmt.Sprintf("@every %s", s.interval)

	for _, a := range s.adapters {
		adapter := a
		if _, err := s.cron.AddFunc(spec, func() { s.run(ctx, adapter) }); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", adapter.Name(), err)
		}
	}

	log := logging.GetFromContext(ctx)
	log.Info().Msgf("scheduled %d adapters %s", len(s.adapters), spec)

	s.cron.Start()

	return nil
}

// Stop waits for running jobs to complete.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) run(ctx context.Context, a Adapter) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ctx.Err() != nil {
		return
	}

	if err := a.Update(ctx); err != nil {
		log := logging.GetFromContext(ctx)
		log.Error().Err(err).Str("adapter", a.Name()).Msg("update failed")
	}
}

type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
