// Command scopecast-picker is the short-lived helper the desktop portal
// spawns during a screencast consent flow. It opens the
// selection endpoint, reads the service's current capture selection once,
// formats it in the portal-expected form on standard output, and exits.
// It mutates nothing: the service owns every piece of state this binary
// reads.
package main

import (
	"fmt"
	"net"
	"os"

	"github.com/scopecast/service/internal/config"
	"github.com/scopecast/service/internal/controlplane"
	"github.com/scopecast/service/internal/peerauth"
	"github.com/scopecast/service/internal/selection"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "scopecast-picker: load config: %v\n", err)
		return selection.PickerExitError
	}

	path := cfg.SelectionSocketPath
	if path == "" {
		path = peerauth.DefaultSelectionSocketPath()
	}

	resp, err := selection.QuerySelection(func() (net.Conn, error) {
		return controlplane.Dial(path)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "scopecast-picker: %v\n", err)
		return selection.PickerExitError
	}

	line, err := selection.FormatPortalLine(resp)
	if err != nil {
		if selection.IsNoSelection(err) {
			return selection.PickerExitNoSelection
		}
		fmt.Fprintf(os.Stderr, "scopecast-picker: %v\n", err)
		return selection.PickerExitError
	}

	fmt.Println(line)
	return selection.PickerExitOK
}
