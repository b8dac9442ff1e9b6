// Command surge is the CLI entry point; see internal/cmd for subcommands.
package main

import "github.com/surge-downloader/surge/cmd"

func main() {
	cmd.Execute()
}
