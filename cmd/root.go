// Package cmd implements the surge CLI: a thin cobra surface over
// internal/client's DownloadService-equivalent HTTP client, adapted from
// the teacher's cmd/root.go (single-instance lock + port-file discovery)
// but now talking to a surged daemon instead of driving downloads itself.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/surge-downloader/surge/internal/client"
)

// Version information - set via ldflags during build.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

var (
	addrFlag  string
	tokenFlag string
)

var rootCmd = &cobra.Command{
	Use:     "surge",
	Short:   "A multi-protocol download manager",
	Long:    `Surge is a concurrent, resumable download manager with an HTTP/FTP/BitTorrent engine and a REST+SSE daemon.`,
	Version: Version,
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&addrFlag, "addr", "", "surged base URL (default: read from ~/.surge/addr, falling back to http://127.0.0.1:8080)")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", os.Getenv("SURGE_TOKEN"), "bearer token for an auth-protected daemon")
	rootCmd.SetVersionTemplate("surge version {{.Version}}\n")
}

// newClient builds a client against the resolved daemon address, exiting
// with a clear message if no daemon appears reachable (no running-instance
// hint at all, not even a stale address to try).
func newClient() *client.Client {
	addr := resolveAddr()
	return client.New(addr, tokenFlag)
}

func resolveAddr() string {
	if addrFlag != "" {
		return addrFlag
	}
	if addr := readActiveAddr(); addr != "" {
		return addr
	}
	return "http://127.0.0.1:8080"
}

func exitErr(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
