package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/surge-downloader/surge/internal/ratelimit"
)

var speedLimitCmd = &cobra.Command{
	Use:   "speed-limit <id> <limit>",
	Short: `Change a task's own speed cap ("unlimited", "500k", "10m")`,
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		c := newClient()
		id, err := resolveTaskID(c, args[0])
		if err != nil {
			exitErr("Error: %v", err)
		}
		if err := c.SetSpeedLimit(id, args[1]); err != nil {
			exitErr("Error: %v", err)
		}
		fmt.Printf("Set speed limit for %s to %s\n", shortID(id), args[1])
	},
}

var globalSpeedLimitCmd = &cobra.Command{
	Use:   "global-speed-limit <limit>",
	Short: `Change the daemon-wide speed cap ("unlimited", "500k", "10m")`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		bytesPerSec := ratelimit.ParseSpeedLimit(args[0])
		c := newClient()
		if err := c.SetGlobalSpeedLimit(bytesPerSec); err != nil {
			exitErr("Error: %v", err)
		}
		fmt.Printf("Set global speed limit to %s\n", args[0])
	},
}

var connectionsCmd = &cobra.Command{
	Use:   "connections <id> <n>",
	Short: "Request a new segment count for a running download",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		n, err := parseIntArg(args[1])
		if err != nil {
			exitErr("Error: %v", err)
		}
		c := newClient()
		id, err := resolveTaskID(c, args[0])
		if err != nil {
			exitErr("Error: %v", err)
		}
		if err := c.SetConnections(id, n); err != nil {
			exitErr("Error: %v", err)
		}
		fmt.Printf("Requested %d connections for %s\n", n, shortID(id))
	},
}

var priorityCmd = &cobra.Command{
	Use:   "priority <id> <low|normal|high|urgent>",
	Short: "Change a queued download's priority",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		p, err := parsePriority(args[1])
		if err != nil {
			exitErr("Error: %v", err)
		}
		c := newClient()
		id, err := resolveTaskID(c, args[0])
		if err != nil {
			exitErr("Error: %v", err)
		}
		if err := c.SetPriority(id, int(p)); err != nil {
			exitErr("Error: %v", err)
		}
		fmt.Printf("Set priority of %s to %s\n", shortID(id), p)
	},
}

func parseIntArg(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	return n, nil
}

func init() {
	rootCmd.AddCommand(speedLimitCmd)
	rootCmd.AddCommand(globalSpeedLimitCmd)
	rootCmd.AddCommand(connectionsCmd)
	rootCmd.AddCommand(priorityCmd)
}
