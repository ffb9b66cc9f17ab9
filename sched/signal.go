package sched

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/grailbio/base/log"
)

// WatchSignals raises cancel on SIGINT, SIGTERM, SIGHUP or SIGQUIT and
// returns a stop function that restores default signal handling (spec §5
// "cooperative cancellation"). Mirrors the signal.Notify pattern used by
// cmd/bio-pileup's main to let in-flight traverse.Each work wind down
// cleanly instead of dying mid-write.
func WatchSignals(cancel *CancelFlag) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)
	done := make(chan struct{})
	go func() {
		select {
		case sig := <-ch:
			log.Printf("sched: received %v, canceling run", sig)
			cancel.Raise()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}
