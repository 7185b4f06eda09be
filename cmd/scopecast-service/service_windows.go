//go:build windows

package main

import (
	"fmt"
	"sync"

	"golang.org/x/sys/windows/svc"
)

// isWindowsService reports whether the process was started by the Windows
// Service Control Manager. Must be called early, before any console I/O.
func isWindowsService() bool {
	ok, err := svc.IsWindowsService()
	if err != nil {
		return false
	}
	return ok
}

// scopecastService implements svc.Handler for the Windows SCM.
type scopecastService struct {
	startFn  func() (*daemon, error)
	stopOnce sync.Once
}

// runAsService runs the daemon under the Windows Service Control Manager.
// startFn is called once the SCM has accepted the service start; it must
// return the running daemon so it can be shut down on SCM stop.
func runAsService(startFn func() (*daemon, error)) error {
	h := &scopecastService{startFn: startFn}
	return svc.Run("ScopecastService", h)
}

// Execute is the SCM callback. It signals SERVICE_RUNNING, calls startFn,
// then blocks until the SCM sends Stop or Shutdown.
func (s *scopecastService) Execute(args []string, r <-chan svc.ChangeRequest, changes chan<- svc.Status) (bool, uint32) {
	const accepted = svc.AcceptStop | svc.AcceptShutdown

	changes <- svc.Status{State: svc.StartPending}

	d, err := s.startFn()
	if err != nil {
		log.Error("daemon start failed", "error", err)
		changes <- svc.Status{State: svc.StopPending}
		return true, 1
	}

	changes <- svc.Status{State: svc.Running, Accepts: accepted}
	log.Info("scopecast-service running as Windows service")

	for cr := range r {
		switch cr.Cmd {
		case svc.Interrogate:
			changes <- cr.CurrentStatus
		case svc.Stop, svc.Shutdown:
			log.Info("SCM requested stop")
			changes <- svc.Status{State: svc.StopPending}
			d.shutdown()
			return false, 0
		default:
			log.Warn(fmt.Sprintf("unexpected SCM control request #%d", cr.Cmd))
		}
	}
	return false, 0
}
