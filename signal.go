package uucp

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
)

// signalState is the atomic replacement for the reference's process-wide
// signal flag array (DESIGN NOTES §9, spec §7): "SIGINT quiesces; others
// abort." 0 means no signal seen yet.
type signalState int32

const (
	signalNone signalState = iota
	signalQuiesce
	signalAbort
)

// watchSignals installs handlers for SIGINT (quiesce: finish in-flight
// work, stop picking up new jobs) and SIGHUP/SIGQUIT/SIGTERM/SIGPIPE
// (abort: cancel immediately, no CY/CN5). It returns a stop function that
// restores default handling.
func (s *Session) watchSignals() (stop func()) {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGPIPE)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig, ok := <-ch:
				if !ok {
					return
				}
				s.handleSignal(sig)
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}

func (s *Session) handleSignal(sig os.Signal) {
	if sig == syscall.SIGINT {
		atomic.StoreInt32((*int32)(&s.signal), int32(signalQuiesce))
		s.mgr.Quiesce()
		if s.log != nil {
			s.log.Normal("SIGINT received, quiescing %s", s.system)
		}
		return
	}
	atomic.StoreInt32((*int32)(&s.signal), int32(signalAbort))
	if s.log != nil {
		s.log.Normal("%v received, aborting %s", sig, s.system)
	}
	s.cancel()
}

func (s *Session) signalState() signalState {
	return signalState(atomic.LoadInt32((*int32)(&s.signal)))
}
