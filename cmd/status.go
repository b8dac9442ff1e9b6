package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show one download's detailed status, including its segments",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		jsonOut, _ := cmd.Flags().GetBool("json")

		c := newClient()
		id, err := resolveTaskID(c, args[0])
		if err != nil {
			exitErr("Error: %v", err)
		}
		st, err := c.GetStatus(id)
		if err != nil {
			exitErr("Error: %v", err)
		}

		if jsonOut {
			data, _ := json.MarshalIndent(st, "", "  ")
			fmt.Println(string(data))
			return
		}

		p := st.State.Progress
		fmt.Printf("ID:       %s\n", st.ID)
		fmt.Printf("State:    %s\n", st.State.Kind)
		if p.TotalBytes > 0 {
			fmt.Printf("Progress: %.1f%% (%s / %s) at %s\n",
				p.Percent, formatSize(p.DownloadedBytes), formatSize(p.TotalBytes), formatSpeed(p.BytesPerSecond))
		}
		if st.State.Path != "" {
			fmt.Printf("Path:     %s\n", st.State.Path)
		}
		if st.State.Err != nil {
			fmt.Printf("Error:    [%s] %s\n", st.State.Err.Kind, st.State.Err.Message)
		}
		if len(st.Segments) > 0 {
			fmt.Println()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SEGMENT\tRANGE\tDOWNLOADED\tDONE")
			for _, seg := range st.Segments {
				fmt.Fprintf(w, "%d\t%d-%d\t%s\t%v\n", seg.Index, seg.Start, seg.End, formatSize(seg.DownloadedBytes), seg.IsComplete())
			}
			w.Flush()
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().Bool("json", false, "output as JSON")
}
