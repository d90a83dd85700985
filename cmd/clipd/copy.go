package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clipdeck/clipd/internal/pasteboard"
	"github.com/clipdeck/clipd/internal/signal"
	"github.com/clipdeck/clipd/internal/store"
)

func newCopyCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "copy <id>",
		Short: "Copy a history entry back to the system pasteboard",
		Long: `Writes the named entry's representations back to the system pasteboard.
The write carries the self-copy marker tag and an ignore-next-change signal
is broadcast first, so running monitors do not re-capture it.`,
		Args:    cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, args []string) error { return runCopy(v, args[0]) },
	}

	cmd.Flags().String("socket", "", "signal socket path (default: runtime dir)")
	addDataFlag(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runCopy(v *viper.Viper, id string) error {
	s, err := openStore(v.GetString("data-dir"))
	if err != nil {
		return err
	}
	defer s.Close()

	e, err := s.Get(context.Background(), id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no history entry %s", id)
	}
	if err != nil {
		return fmt.Errorf("load entry: %w", err)
	}

	// Warn peers before touching the pasteboard; a lost signal only costs a
	// duplicate capture attempt, which the marker tag rejects anyway.
	socket := v.GetString("socket")
	if socket == "" {
		socket = signal.SocketPath()
	}
	if bus, err := signal.Open(socket, nil); err == nil {
		bus.Post(signal.IgnoreNextChange)
		bus.Close()
	}

	_, writer := pasteboard.System()
	if err := writer.Write(e.CopyPayloads()); err != nil {
		return fmt.Errorf("write pasteboard: %w", err)
	}
	return nil
}
