package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// ListenerChecker restarts crashed listeners and returns how many it restarted.
type ListenerChecker interface {
	CheckListeners(ctx context.Context) int
}

// WatchdogJob polls listener liveness on a fixed interval.
type WatchdogJob struct {
	checker  ListenerChecker
	interval time.Duration
	timeout  time.Duration
	done     chan struct{}
	stopped  chan struct{}
}

func NewWatchdogJob(checker ListenerChecker, interval time.Duration) *WatchdogJob {
	return &WatchdogJob{
		checker:  checker,
		interval: interval,
		// A pass that outlives the next tick is cut short.
		timeout: max(interval, time.Second) * 4,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (j *WatchdogJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("listener watchdog started")
}

// Stop waits for an in-flight pass to finish so no restart happens after it returns.
func (j *WatchdogJob) Stop() {
	close(j.done)
	<-j.stopped
	log.Info().Msg("listener watchdog stopped")
}

func (j *WatchdogJob) run() {
	defer close(j.stopped)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.check()
		}
	}
}

func (j *WatchdogJob) check() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	if restarted := j.checker.CheckListeners(ctx); restarted > 0 {
		log.Info().Int("restarted", restarted).Msg("watchdog restarted listeners")
	}
}
