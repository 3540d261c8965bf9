package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/TheCoderAdi/EchoPersona-Backend/internal/config"
)

// Sweeper removes expired rows and reports how many were affected.
type Sweeper func(ctx context.Context) (int64, error)

type CleanupJob struct {
	sweeps   map[string]Sweeper
	interval time.Duration
	done     chan struct{}
}

// NewCleanupJob runs every named sweep on interval. Nil sweeps are skipped.
func NewCleanupJob(sweeps map[string]Sweeper, interval time.Duration) *CleanupJob {
	active := make(map[string]Sweeper, len(sweeps))
	for name, fn := range sweeps {
		if fn != nil {
			active[name] = fn
		}
	}
	return &CleanupJob{
		sweeps:   active,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Int("sweeps", len(j.sweeps)).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), config.CleanupTimeout)
	defer cancel()

	for name, fn := range j.sweeps {
		j.runCleanup(ctx, name, fn)
	}
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn Sweeper) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}
