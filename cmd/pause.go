package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/surge-downloader/surge/internal/client"
	"github.com/surge-downloader/surge/internal/engine/model"
)

var pauseCmd = &cobra.Command{
	Use:   "pause <id>",
	Short: "Pause a download",
	Long:  `Pause a download by ID. Use --all to pause every active download.`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		all, _ := cmd.Flags().GetBool("all")
		if !all && len(args) == 0 {
			exitErr("Error: provide a download ID or use --all")
		}

		c := newClient()
		if all {
			forEachActive(c, func(id string) error { return c.Pause(id) }, "Paused")
			return
		}

		id, err := resolveTaskID(c, args[0])
		if err != nil {
			exitErr("Error: %v", err)
		}
		if err := c.Pause(id); err != nil {
			exitErr("Error pausing %s: %v", shortID(id), err)
		}
		fmt.Printf("Paused %s\n", shortID(id))
	},
}

// forEachActive runs fn over every non-terminal task, reporting a summary.
func forEachActive(c *client.Client, fn func(id string) error, verb string) {
	statuses, err := c.List()
	if err != nil {
		exitErr("Error listing downloads: %v", err)
	}
	var count int
	for _, s := range statuses {
		kind := s.State.Kind
		if kind == model.ObservedCompleted || kind == model.ObservedFailed || kind == model.ObservedCanceled {
			continue
		}
		if err := fn(s.ID); err != nil {
			fmt.Fprintf(os.Stderr, "Error on %s: %v\n", shortID(s.ID), err)
			continue
		}
		count++
	}
	fmt.Printf("%s %d downloads.\n", verb, count)
}

func init() {
	rootCmd.AddCommand(pauseCmd)
	pauseCmd.Flags().Bool("all", false, "pause every active download")
}
