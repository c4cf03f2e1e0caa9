package lifecycle

import (
	"os"
	"os/signal"
	"syscall"
)

// IgnoreBenignSignals matches the original daemon's sigaction table for the
// two signals that are neither part of graceful shutdown (SIGINT/SIGTERM,
// handled by the caller via signal.NotifyContext) nor fatal: SIGPIPE is
// ignored because write failures to a closed socket are already observed
// through return codes, and SIGALRM is given a no-op handler solely so it
// can interrupt a blocking syscall without terminating the process.
//
// Returns a stop function that restores default disposition for both
// signals; the daemon defers it in its run function, so it takes effect
// only as the process exits.
func IgnoreBenignSignals() (stop func()) {
	signal.Ignore(syscall.SIGPIPE)

	alarmCh := make(chan os.Signal, 1)
	signal.Notify(alarmCh, syscall.SIGALRM)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-alarmCh:
				// Nothing to do: the point is only to interrupt whatever
				// blocking syscall was in progress.
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		signal.Stop(alarmCh)
		signal.Reset(syscall.SIGPIPE)
	}
}
