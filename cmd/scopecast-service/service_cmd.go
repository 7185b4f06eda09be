package main

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

const (
	linuxUnitDst  = "/etc/systemd/system/scopecast.service"
	darwinPlistDst = "/Library/LaunchDaemons/com.scopecast.service.plist"
	windowsSvcName = "ScopecastService"
)

const linuxUnit = `[Unit]
Description=Scopecast screen-recording control plane
After=graphical-session.target

[Service]
Type=simple
ExecStart=/usr/local/bin/scopecast-service run
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`

const darwinPlist = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>com.scopecast.service</string>
    <key>ProgramArguments</key>
    <array>
        <string>/usr/local/bin/scopecast-service</string>
        <string>run</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <dict>
        <key>SuccessfulExit</key>
        <false/>
    </dict>
</dict>
</plist>
`

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the scopecast-service system service",
}

func init() {
	rootCmd.AddCommand(serviceCmd)
	serviceCmd.AddCommand(serviceInstallCmd)
	serviceCmd.AddCommand(serviceUninstallCmd)
}

// serviceInstallCmd writes the platform service descriptor. No privilege
// groups or capability bounding sets are configured: the control socket's
// access control comes entirely from peer verification, not from OS group
// membership.
var serviceInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install scopecast-service as an OS-managed service",
	RunE: func(cmd *cobra.Command, args []string) error {
		switch runtime.GOOS {
		case "linux":
			if err := os.WriteFile(linuxUnitDst, []byte(linuxUnit), 0644); err != nil {
				return fmt.Errorf("write unit file: %w", err)
			}
			if out, err := exec.Command("systemctl", "daemon-reload").CombinedOutput(); err != nil {
				return fmt.Errorf("reload systemd: %s", strings.TrimSpace(string(out)))
			}
			if out, err := exec.Command("systemctl", "enable", "--now", "scopecast").CombinedOutput(); err != nil {
				return fmt.Errorf("enable service: %s", strings.TrimSpace(string(out)))
			}
			fmt.Println("scopecast.service installed and started.")
			return nil
		case "darwin":
			if err := os.WriteFile(darwinPlistDst, []byte(darwinPlist), 0644); err != nil {
				return fmt.Errorf("write plist: %w", err)
			}
			if out, err := exec.Command("launchctl", "bootstrap", "system", darwinPlistDst).CombinedOutput(); err != nil {
				return fmt.Errorf("load service: %s", strings.TrimSpace(string(out)))
			}
			fmt.Println("com.scopecast.service installed and started.")
			return nil
		case "windows":
			exePath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable path: %w", err)
			}
			out, err := exec.Command("sc.exe", "create", windowsSvcName,
				"binPath=", exePath+" run", "start=", "auto").CombinedOutput()
			if err != nil {
				return fmt.Errorf("sc.exe create: %s", strings.TrimSpace(string(out)))
			}
			fmt.Println("ScopecastService installed.")
			return nil
		default:
			return fmt.Errorf("service install is not supported on %s", runtime.GOOS)
		}
	},
}

var serviceUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the OS-managed scopecast-service",
	RunE: func(cmd *cobra.Command, args []string) error {
		switch runtime.GOOS {
		case "linux":
			exec.Command("systemctl", "disable", "--now", "scopecast").Run()
			os.Remove(linuxUnitDst)
			exec.Command("systemctl", "daemon-reload").Run()
			fmt.Println("scopecast.service removed.")
			return nil
		case "darwin":
			exec.Command("launchctl", "bootout", "system/com.scopecast.service").Run()
			os.Remove(darwinPlistDst)
			fmt.Println("com.scopecast.service removed.")
			return nil
		case "windows":
			exec.Command("sc.exe", "stop", windowsSvcName).Run()
			out, err := exec.Command("sc.exe", "delete", windowsSvcName).CombinedOutput()
			if err != nil {
				return fmt.Errorf("sc.exe delete: %s", strings.TrimSpace(string(out)))
			}
			fmt.Println("ScopecastService removed.")
			return nil
		default:
			return fmt.Errorf("service uninstall is not supported on %s", runtime.GOOS)
		}
	},
}
