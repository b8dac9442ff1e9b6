// Command surged is the standalone daemon binary: the same engine bootstrap
// as `surge serve`, packaged separately so it can be supervised (systemd,
// launchd, a container) without pulling in the CLI's cobra surface.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/surge-downloader/surge/cmd"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	host := flag.String("host", "127.0.0.1", "address to bind")
	port := flag.Int("port", 8080, "port to bind")
	token := flag.String("token", os.Getenv("SURGE_TOKEN"), "bearer token required of API callers (empty disables auth)")
	maxConcurrent := flag.Int("max-concurrent", 0, "override queue.max_concurrent_downloads")
	maxPerHost := flag.Int("max-per-host", 0, "override queue.max_connections_per_host")
	verbose := flag.Bool("verbose", false, "write debug logs to ~/.surge/surged.log")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("surged %s (built %s)\n", version, buildTime)
		return
	}

	err := cmd.RunDaemon(cmd.DaemonOptions{
		Host:          *host,
		Port:          *port,
		Token:         *token,
		MaxConcurrent: *maxConcurrent,
		MaxPerHost:    *maxPerHost,
		Verbose:       *verbose,
		Version:       version,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
