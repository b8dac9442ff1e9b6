package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/surge-downloader/surge/internal/api"
	"github.com/surge-downloader/surge/internal/config"
	"github.com/surge-downloader/surge/internal/engine"
	"github.com/surge-downloader/surge/internal/engine/scheduler"
	"github.com/surge-downloader/surge/internal/logx"
	"github.com/surge-downloader/surge/internal/source"
	"github.com/surge-downloader/surge/internal/source/ftp"
	"github.com/surge-downloader/surge/internal/source/httpsource"
	"github.com/surge-downloader/surge/internal/source/torrent"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the surge daemon (engine + REST/SSE API) in the foreground",
	Long:  `Starts a surged instance: acquires the single-instance lock, opens the task store, and serves the REST+SSE API until interrupted.`,
	Run: func(cmd *cobra.Command, args []string) {
		host, _ := cmd.Flags().GetString("host")
		port, _ := cmd.Flags().GetInt("port")
		daemonToken, _ := cmd.Flags().GetString("token")
		maxConcurrent, _ := cmd.Flags().GetInt("max-concurrent")
		maxPerHost, _ := cmd.Flags().GetInt("max-per-host")
		verbose, _ := cmd.Flags().GetBool("verbose")

		if err := RunDaemon(DaemonOptions{
			Host:          host,
			Port:          port,
			Token:         daemonToken,
			MaxConcurrent: maxConcurrent,
			MaxPerHost:    maxPerHost,
			Verbose:       verbose,
		}); err != nil {
			exitErr("%v", err)
		}
	},
}

// DaemonOptions configures RunDaemon; both `surge serve` and the
// standalone cmd/surged binary build one of these from flags and hand it
// here, so the daemon bootstrap exists in exactly one place.
type DaemonOptions struct {
	Host          string
	Port          int
	Token         string
	MaxConcurrent int
	MaxPerHost    int
	Verbose       bool
	Version       string
}

// RunDaemon acquires the single-instance lock, wires an Engine with every
// built-in source plugin, and serves the REST+SSE API until the process
// receives SIGINT/SIGTERM. Blocks until shutdown completes.
func RunDaemon(opts DaemonOptions) error {
	isMaster, err := AcquireLock()
	if err != nil {
		return fmt.Errorf("acquiring instance lock: %w", err)
	}
	if !isMaster {
		return fmt.Errorf("surged is already running (use 'surge ls' to talk to it)")
	}
	defer ReleaseLock()

	if err := config.EnsureDirs(); err != nil {
		return fmt.Errorf("ensuring state dir: %w", err)
	}

	cfg, err := config.Load(config.SettingsPath())
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}

	var log *logx.Logger
	if opts.Verbose {
		log, err = logx.New(filepath.Join(config.SurgeDir(), "surged.log"))
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
	} else {
		log = logx.Discard()
	}
	defer log.Close()

	sources := source.NewRegistry()
	sources.Register(httpsource.New("http", cfg.UserAgent, cfg.Queue.MaxConnectionsPerHost, log))
	sources.Register(httpsource.New("https", cfg.UserAgent, cfg.Queue.MaxConnectionsPerHost, log))
	sources.Register(ftp.New())
	torrentSrc, err := torrent.New(filepath.Join(config.SurgeDir(), "torrents"))
	if err != nil {
		return fmt.Errorf("starting torrent client: %w", err)
	}
	sources.Register(torrentSrc)

	globalLimit, _ := config.ParseSpeedLimit(cfg.GlobalSpeedLimit)
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent == 0 {
		maxConcurrent = cfg.Queue.MaxConcurrentDownloads
	}
	maxPerHost := opts.MaxPerHost
	if maxPerHost == 0 {
		maxPerHost = cfg.Queue.MaxConnectionsPerHost
	}

	eng, err := engine.New(engine.Config{
		StorePath:          config.StorePath(),
		GlobalSpeedLimit:    globalLimit,
		MaxConcurrent:       maxConcurrent,
		MaxPerHost:          maxPerHost,
		DefaultConnections:  cfg.MaxConnections,
		Predicate:           scheduler.AlwaysSource{},
		Log:                 log,
	}, sources)
	if err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", opts.Host, opts.Port))
	if err != nil {
		return fmt.Errorf("listening on %s:%d: %w", opts.Host, opts.Port, err)
	}

	addr := fmt.Sprintf("http://%s", ln.Addr().String())
	saveActiveAddr(addr)
	defer removeActiveAddr()

	srv := api.New(eng, opts.Token)
	httpSrv := &http.Server{Handler: srv}

	go func() {
		if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "api server error: %v\n", err)
		}
	}()

	fmt.Printf("surged %s listening on %s\n", opts.Version, addr)
	fmt.Println("Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	fmt.Println("\nShutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)

	return eng.Shutdown(10 * time.Second)
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "127.0.0.1", "address to bind")
	serveCmd.Flags().Int("port", 8080, "port to bind")
	serveCmd.Flags().String("token", os.Getenv("SURGE_TOKEN"), "bearer token required of API callers (empty disables auth)")
	serveCmd.Flags().Int("max-concurrent", 0, "override queue.max_concurrent_downloads")
	serveCmd.Flags().Int("max-per-host", 0, "override queue.max_connections_per_host")
	serveCmd.Flags().Bool("verbose", false, "write debug logs to ~/.surge/surged.log")
}
