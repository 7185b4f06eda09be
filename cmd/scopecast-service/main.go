package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/scopecast/service/internal/config"
	"github.com/scopecast/service/internal/controlplane"
	"github.com/scopecast/service/internal/framing"
	"github.com/scopecast/service/internal/logging"
	"github.com/scopecast/service/internal/peerauth"
	"github.com/scopecast/service/internal/previewsrv"
	"github.com/scopecast/service/internal/protocol"
	"github.com/scopecast/service/internal/selection"
)

var (
	version = "0.1.0"
	cfgFile string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "scopecast-service",
	Short: "Scopecast control-plane daemon",
	Long:  `scopecast-service owns the recording state machine and serves the control and selection sockets used by the scopecast CLI and picker.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the daemon",
	Run: func(cmd *cobra.Command, args []string) {
		runDaemon()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("scopecast-service v%s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Ping the running daemon over its control socket",
	RunE: func(cmd *cobra.Command, args []string) error {
		return checkStatus()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is platform config dir/scopecast.yaml)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initLogging(cfg *config.Config) {
	var output io.Writer = os.Stdout
	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v (logging to stdout)\n", cfg.LogFile, err)
		} else {
			output = io.MultiWriter(os.Stdout, rw)
		}
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, output)
	log = logging.L("main")
}

func loadConfigOrExit() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// daemon holds the running control/selection endpoints so both the
// foreground run path and the Windows SCM wrapper can shut them down the
// same way.
type daemon struct {
	svc     *controlplane.Service
	selLn   net.Listener
	preview *previewsrv.Server
}

func (d *daemon) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	d.svc.RequestShutdown(ctx)
	if d.selLn != nil {
		d.selLn.Close()
	}
	if d.preview != nil {
		if err := d.preview.Shutdown(ctx); err != nil {
			log.Warn("preview bridge shutdown", "error", err)
		}
	}
}

func startDaemon(cfg *config.Config) (*daemon, error) {
	policy, err := peerauth.PolicyFromConfig(cfg.TrustedExecutables, cfg.TrustedInstallDirs)
	if err != nil {
		return nil, fmt.Errorf("build peer trust policy: %w", err)
	}

	controlPath := cfg.ControlSocketPath
	if controlPath == "" {
		controlPath = peerauth.DefaultControlSocketPath()
	}
	selectionPath := cfg.SelectionSocketPath
	if selectionPath == "" {
		selectionPath = peerauth.DefaultSelectionSocketPath()
	}

	svc := controlplane.New(cfg, controlplane.Backends{})

	ctrlEp := controlplane.NewControlEndpoint(svc, policy, controlPath)
	go func() {
		if err := ctrlEp.Serve(); err != nil {
			log.Error("control endpoint stopped", "error", err)
		}
	}()

	selLn, err := controlplane.ListenSocket(selectionPath)
	if err != nil {
		return nil, fmt.Errorf("listen selection socket: %w", err)
	}
	selEp := selection.NewEndpoint(svc.SelectionCell(), policy)
	go func() {
		if err := selEp.Serve(selLn); err != nil {
			log.Info("selection endpoint closed", "error", err)
		}
	}()
	go watchSelectionShutdown(svc, selLn, selectionPath)

	var preview *previewsrv.Server
	if cfg.PreviewListenAddr != "" {
		preview, err = previewsrv.New(cfg.PreviewListenAddr, svc.SubscribeEventFrames)
		if err != nil {
			selLn.Close()
			return nil, err
		}
		go func() {
			if err := preview.Serve(); err != nil {
				log.Error("preview bridge stopped", "error", err)
			}
		}()
	}

	log.Info("scopecast-service running", "version", version, "controlSocket", controlPath, "selectionSocket", selectionPath)

	return &daemon{svc: svc, selLn: selLn, preview: preview}, nil
}

// watchSelectionShutdown closes the selection listener once the process-wide
// shutdown flag is raised, mirroring the control endpoint's own internal
// watcher (which selection.Endpoint, being a thinner type, doesn't run
// itself).
func watchSelectionShutdown(svc *controlplane.Service, ln net.Listener, path string) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		if svc.ShuttingDown() {
			ln.Close()
			controlplane.RemoveSocketFile(path)
			return
		}
	}
}

func runDaemon() {
	cfg := loadConfigOrExit()
	initLogging(cfg)

	if isWindowsService() {
		if err := runAsService(func() (*daemon, error) { return startDaemon(cfg) }); err != nil {
			log.Error("service run failed", "error", err)
			os.Exit(1)
		}
		return
	}

	d, err := startDaemon(cfg)
	if err != nil {
		log.Error("daemon failed to start", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	<-sigChan

	log.Info("shutting down scopecast-service")
	d.shutdown()
	log.Info("scopecast-service stopped")
}

func checkStatus() error {
	cfg := loadConfigOrExit()

	controlPath := cfg.ControlSocketPath
	if controlPath == "" {
		controlPath = peerauth.DefaultControlSocketPath()
	}

	conn, err := controlplane.Dial(controlPath)
	if err != nil {
		return fmt.Errorf("not running (dial %s: %w)", controlPath, err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(3 * time.Second))

	reqData, err := protocol.EncodeRequest(protocol.PingRequest{})
	if err != nil {
		return err
	}
	if err := framing.WriteFrame(conn, reqData); err != nil {
		return fmt.Errorf("write ping: %w", err)
	}

	respData, err := framing.ReadFrame(conn)
	if err != nil {
		return fmt.Errorf("read pong: %w", err)
	}

	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(respData, &probe); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if probe.Type != protocol.RespPong {
		return fmt.Errorf("unexpected response type %q", probe.Type)
	}

	fmt.Println("scopecast-service is running")
	return nil
}
