// clipd: clipboard history shared across cooperating processes.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/clipdeck/clipd/internal/logging"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "clipd",
		Short: "Clipboard history across cooperating processes",
		Long: `clipd watches the system pasteboard, keeps a typed history of what gets
copied, and converges every cooperating clipd process on the same view of
that history through a shared change log.

Run "clipd serve" in each process that should capture and follow history.
Use "clipd history", "clipd copy" and "clipd delete" as one-shot tools
against the same data directory.

Config file search order (first found wins):
  /etc/clipd/clipd.toml
  $HOME/.config/clipd/clipd.toml
  path supplied via --config

All flags can be set via CLIPD_<FLAG> env vars or config-file keys.
See "clipd serve --help" for the full flag reference.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newServeCmd(),
		newHistoryCmd(),
		newCopyCmd(),
		newDeleteCmd(),
		newPurgeCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("clipd %s\n", Version)
		},
	}
}

// resolveLogging sets up the global slog logger after flags are parsed.
func resolveLogging(interactive bool, formatStr, levelStr string) {
	format := logging.ParseFormat(formatStr)
	level := logging.ParseLevel(levelStr)
	if levelStr == "" {
		if interactive {
			level = logging.ParseLevel("debug")
		} else {
			level = logging.ParseLevel("info")
		}
	}
	logging.Setup(format, level)
}
