package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Resume a paused download",
	Long:  `Resume a paused download by ID. Use --all to resume every paused download.`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		all, _ := cmd.Flags().GetBool("all")
		if !all && len(args) == 0 {
			exitErr("Error: provide a download ID or use --all")
		}

		c := newClient()
		if all {
			forEachActive(c, func(id string) error { return c.Resume(id) }, "Resumed")
			return
		}

		id, err := resolveTaskID(c, args[0])
		if err != nil {
			exitErr("Error: %v", err)
		}
		if err := c.Resume(id); err != nil {
			exitErr("Error resuming %s: %v", shortID(id), err)
		}
		fmt.Printf("Resumed %s\n", shortID(id))
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
	resumeCmd.Flags().Bool("all", false, "resume every paused download")
}
