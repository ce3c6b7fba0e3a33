package resilience

import "time"

// Watchdog is a resettable deadline. C fires once per arming when the
// deadline passes without a Reset; a disarmed watchdog never fires.
type Watchdog struct {
	timeout time.Duration
	timer   *time.Timer
	armed   bool
}

func NewWatchdog(timeout time.Duration) *Watchdog {
	w := &Watchdog{timeout: timeout, timer: time.NewTimer(time.Hour)}
	w.timer.Stop()
	return w
}

// C returns the firing channel, or nil while disarmed so a select skips it.
func (w *Watchdog) C() <-chan time.Time {
	if !w.armed || w.timeout <= 0 {
		return nil
	}
	return w.timer.C
}

// Reset (re)arms the watchdog for a full timeout.
func (w *Watchdog) Reset() {
	if w.timeout <= 0 {
		return
	}
	w.timer.Stop()
	w.timer.Reset(w.timeout)
	w.armed = true
}

// Stop disarms the watchdog.
func (w *Watchdog) Stop() {
	w.timer.Stop()
	w.armed = false
}

// Fired must be called after receiving from C.
func (w *Watchdog) Fired() {
	w.armed = false
}
