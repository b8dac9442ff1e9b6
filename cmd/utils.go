package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/surge-downloader/surge/internal/client"
	"github.com/surge-downloader/surge/internal/config"
)

// readActiveAddr reads the running daemon's base URL from the address
// file surged writes on startup (~/.surge/addr), mirroring the teacher's
// port-file discovery (cmd/root.go's saveActivePort/readActivePort) but
// storing a full base URL since surged's bind address isn't always
// localhost.
func readActiveAddr() string {
	data, err := os.ReadFile(filepath.Join(config.SurgeDir(), "addr"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func saveActiveAddr(addr string) {
	_ = config.EnsureDirs()
	_ = os.WriteFile(filepath.Join(config.SurgeDir(), "addr"), []byte(addr), 0644)
}

func removeActiveAddr() {
	_ = os.Remove(filepath.Join(config.SurgeDir(), "addr"))
}

// readURLsFromFile reads URLs from a file, one per line, skipping blanks
// and '#' comments.
func readURLsFromFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			urls = append(urls, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("no URLs found in %s", path)
	}
	return urls, nil
}

// resolveTaskID expands a short ID prefix (>=6 chars) to the one task it
// uniquely matches, by consulting the daemon's task list. Returns the
// input unchanged if it's already long enough to be a full UUID, or if no
// unique match is found (the caller's own "not found" error then applies).
func resolveTaskID(c *client.Client, partial string) (string, error) {
	if len(partial) >= 32 {
		return partial, nil
	}
	statuses, err := c.List()
	if err != nil {
		return partial, nil
	}
	var matches []string
	for _, s := range statuses {
		if strings.HasPrefix(s.ID, partial) {
			matches = append(matches, s.ID)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return partial, nil
	default:
		return "", fmt.Errorf("ambiguous ID prefix %q matches %d downloads", partial, len(matches))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatSize(n int64) string {
	if n <= 0 {
		return "-"
	}
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

func formatSpeed(bytesPerSec float64) string {
	if bytesPerSec <= 0 {
		return "-"
	}
	return fmt.Sprintf("%s/s", formatSize(int64(bytesPerSec)))
}
