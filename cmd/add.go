package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/surge-downloader/surge/internal/engine/model"
)

var addCmd = &cobra.Command{
	Use:     "add <url>...",
	Aliases: []string{"get"},
	Short:   "Queue one or more downloads on the daemon",
	Long:    `Queue one or more URLs for download on a running surged instance.`,
	Args:    cobra.ArbitraryArgs,
	Run: func(cmd *cobra.Command, args []string) {
		batchFile, _ := cmd.Flags().GetString("batch")
		output, _ := cmd.Flags().GetString("output")
		connections, _ := cmd.Flags().GetInt("connections")
		speedLimit, _ := cmd.Flags().GetString("speed-limit")
		priorityFlag, _ := cmd.Flags().GetString("priority")

		urls := append([]string{}, args...)
		if batchFile != "" {
			fileURLs, err := readURLsFromFile(batchFile)
			if err != nil {
				exitErr("Error reading batch file: %v", err)
			}
			urls = append(urls, fileURLs...)
		}
		if len(urls) == 0 {
			cmd.Help()
			return
		}

		priority, err := parsePriority(priorityFlag)
		if err != nil {
			exitErr("Error: %v", err)
		}

		c := newClient()
		var failed int
		for _, u := range urls {
			id, err := c.Add(model.DownloadRequest{
				URL:         u,
				Destination: output,
				Connections: connections,
				Priority:    priority,
				SpeedLimit:  speedLimit,
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error adding %s: %v\n", u, err)
				failed++
				continue
			}
			fmt.Printf("Queued %s -> %s\n", u, shortID(id))
		}
		if failed > 0 {
			os.Exit(1)
		}
	},
}

func parsePriority(s string) (model.Priority, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NORMAL":
		return model.PriorityNormal, nil
	case "LOW":
		return model.PriorityLow, nil
	case "HIGH":
		return model.PriorityHigh, nil
	case "URGENT":
		return model.PriorityUrgent, nil
	default:
		return model.PriorityNormal, fmt.Errorf("invalid priority %q (want low|normal|high|urgent)", s)
	}
}

func init() {
	rootCmd.AddCommand(addCmd)
	addCmd.Flags().StringP("batch", "b", "", "file containing URLs to download (one per line)")
	addCmd.Flags().StringP("output", "o", "", "output directory")
	addCmd.Flags().IntP("connections", "c", 0, "number of segments (0 = daemon default)")
	addCmd.Flags().String("speed-limit", "", `per-task speed cap ("unlimited", "500k", "10m")`)
	addCmd.Flags().String("priority", "normal", "queue priority: low|normal|high|urgent")
}
