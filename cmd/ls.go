package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/surge-downloader/surge/internal/client"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List downloads",
	Long:  `List every task tracked by the daemon. Use --history to show only completed/failed/canceled tasks.`,
	Run: func(cmd *cobra.Command, args []string) {
		jsonOut, _ := cmd.Flags().GetBool("json")
		watch, _ := cmd.Flags().GetBool("watch")
		history, _ := cmd.Flags().GetBool("history")

		c := newClient()
		if watch {
			for {
				fmt.Print("\033[H\033[2J")
				printDownloads(c, jsonOut, history)
				time.Sleep(time.Second)
			}
		}
		printDownloads(c, jsonOut, history)
	},
}

func printDownloads(c *client.Client, jsonOut, history bool) {
	var (
		statuses []client.Status
		err      error
	)
	if history {
		statuses, err = c.History()
	} else {
		statuses, err = c.List()
	}
	if err != nil {
		exitErr("Error listing downloads: %v", err)
	}

	if jsonOut {
		data, _ := json.MarshalIndent(statuses, "", "  ")
		fmt.Println(string(data))
		return
	}

	if len(statuses) == 0 {
		fmt.Println("No downloads.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATE\tPROGRESS\tSPEED\tSIZE")
	for _, s := range statuses {
		p := s.State.Progress
		progress := "-"
		if p.TotalBytes > 0 {
			progress = fmt.Sprintf("%.1f%%", p.Percent)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			shortID(s.ID), s.State.Kind, progress, formatSpeed(p.BytesPerSecond), formatSize(p.TotalBytes))
	}
	w.Flush()
}

func init() {
	rootCmd.AddCommand(lsCmd)
	lsCmd.Flags().Bool("json", false, "output as JSON")
	lsCmd.Flags().Bool("watch", false, "refresh every second")
	lsCmd.Flags().Bool("history", false, "show only terminal (completed/failed/canceled) tasks")
}
