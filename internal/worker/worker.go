package worker

import (
	"log/slog"
	"sync"
	"time"
)

const defaultSweepInterval = 3 * time.Minute

// Sweeper drops expired entries and reports how many were removed.
type Sweeper interface {
	Sweep() int
}

// Janitor periodically sweeps expired throttle entries.
type Janitor struct {
	sweeper  Sweeper
	interval time.Duration
	logger   *slog.Logger
	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewJanitor(sweeper Sweeper, interval time.Duration, logger *slog.Logger) *Janitor {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Janitor{
		sweeper:  sweeper,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (j *Janitor) Start() {
	j.logger.Info("Starting throttle janitor", "interval", j.interval)
	go j.run()
}

// Stop ends the loop and waits for it to exit. It is safe to call more than once.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() {
		j.logger.Info("Stopping throttle janitor")
		close(j.stopChan)
	})
	<-j.done
}

func (j *Janitor) run() {
	defer close(j.done)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stopChan:
			return
		case <-ticker.C:
			j.sweepOnce()
		}
	}
}

func (j *Janitor) sweepOnce() {
	if removed := j.sweeper.Sweep(); removed > 0 {
		j.logger.Debug("Swept expired throttle entries", "removed", removed)
	}
}
