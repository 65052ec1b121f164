package routing

import (
	"fmt"
	"sync"
	"time"
)

// Updater periodically refreshes an engine's route mappings on its own goroutine.
type Updater struct {
	engine *Engine

	mu       sync.Mutex
	running  bool
	interval time.Duration
	stopChan chan struct{}
	done     chan struct{}
	ticks    int64
	failures int64
}

// NewUpdater creates a stopped updater for an engine
func NewUpdater(engine *Engine) *Updater {
	return &Updater{engine: engine}
}

// Start launches the refresh loop. It returns false if the loop is already running.
func (u *Updater) Start(interval time.Duration) bool {
	if interval <= 0 {
		interval = DefaultUpdateInterval
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.running {
		return false
	}
	u.running = true
	u.interval = interval
	u.stopChan = make(chan struct{})
	u.done = make(chan struct{})

	go u.loop(interval, u.stopChan, u.done)
	u.engine.logger.Info("background mapping updates started (every %s)", interval)
	return true
}

// Stop ends the refresh loop and waits for an in-flight tick to finish
func (u *Updater) Stop() {
	u.mu.Lock()
	if !u.running {
		u.mu.Unlock()
		return
	}
	u.running = false
	close(u.stopChan)
	done := u.done
	u.mu.Unlock()

	<-done
	u.engine.logger.Info("background mapping updates stopped")
}

// Running reports whether the loop is active
func (u *Updater) Running() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.running
}

// Interval returns the cadence of the running loop, or zero when stopped
func (u *Updater) Interval() time.Duration {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.running {
		return 0
	}
	return u.interval
}

// Stats returns the number of completed ticks and of ticks that failed
func (u *Updater) Stats() (ticks, failures int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.ticks, u.failures
}

func (u *Updater) loop(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			err := u.tick(now)

			u.mu.Lock()
			u.ticks++
			if err != nil {
				u.failures++
			}
			u.mu.Unlock()

			if err != nil {
				u.engine.logger.Error("mapping update failed: %v", err)
			}
		case <-stop:
			return
		}
	}
}

// RunOnce performs a single refresh immediately, ignoring the cadence gate
func (u *Updater) RunOnce() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mapping update panicked: %v", r)
		}
	}()
	u.engine.UpdateRouteMappings()
	return nil
}

func (u *Updater) tick(now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mapping update panicked: %v", r)
		}
	}()
	u.engine.UpdateRouteMappingsIfDue(now)
	return nil
}

// RunUpdateCycle refreshes route mappings once, outside the background loop
func (e *Engine) RunUpdateCycle() error {
	return e.updater.RunOnce()
}

// Updater exposes the background refresh loop
func (e *Engine) Updater() *Updater {
	return e.updater
}
