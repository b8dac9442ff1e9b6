package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/surge-downloader/surge/internal/engine/model"
)

var rmCmd = &cobra.Command{
	Use:     "rm <id>",
	Aliases: []string{"cancel"},
	Short:   "Cancel and remove a download",
	Long:    `Cancel a download and remove its record. Use --clean to remove all completed downloads instead. Use --delete-file to also delete any partial/completed output file.`,
	Args:    cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		clean, _ := cmd.Flags().GetBool("clean")
		deleteFile, _ := cmd.Flags().GetBool("delete-file")

		if !clean && len(args) == 0 {
			exitErr("Error: provide a download ID or use --clean")
		}

		c := newClient()

		if clean {
			statuses, err := c.History()
			if err != nil {
				exitErr("Error listing history: %v", err)
			}
			var count int
			for _, s := range statuses {
				if s.State.Kind != model.ObservedCompleted {
					continue
				}
				if err := c.Delete(s.ID, false); err == nil {
					count++
				}
			}
			fmt.Printf("Removed %d completed downloads.\n", count)
			return
		}

		id, err := resolveTaskID(c, args[0])
		if err != nil {
			exitErr("Error: %v", err)
		}
		if err := c.Delete(id, deleteFile); err != nil {
			exitErr("Error removing %s: %v", shortID(id), err)
		}
		fmt.Printf("Removed %s\n", shortID(id))
	},
}

func init() {
	rootCmd.AddCommand(rmCmd)
	rmCmd.Flags().Bool("clean", false, "remove all completed downloads")
	rmCmd.Flags().Bool("delete-file", false, "also delete the output file on disk")
}
