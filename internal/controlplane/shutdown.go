package controlplane

import "sync/atomic"

// shutdownFlag is the process-wide flag: only a successful `shutdown`
// request (or an OS signal handled by the cmd entrypoint) may set it. The
// accept loop polls it on its 100ms tick; everything else treats it as
// read-only.
type shutdownFlag struct {
	set atomic.Bool
}

func (f *shutdownFlag) Raise() { f.set.Store(true) }
func (f *shutdownFlag) IsSet() bool { return f.set.Load() }
