package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clipdeck/clipd/internal/signal"
	"github.com/clipdeck/clipd/internal/store"
)

func newDeleteCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Mark a history entry for deletion",
		Long: `Tombstones the named entry. It disappears from views as the change
replicates but stays in the store until retention pruning removes it.`,
		Args:    cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, args []string) error { return runDelete(v, args[0]) },
	}

	cmd.Flags().String("socket", "", "signal socket path (default: runtime dir)")
	addDataFlag(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runDelete(v *viper.Viper, id string) error {
	s, err := openStore(v.GetString("data-dir"))
	if err != nil {
		return err
	}
	defer s.Close()

	err = s.MarkForDeletion(context.Background(), id, "cli-delete")
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no history entry %s", id)
	}
	if err != nil {
		return fmt.Errorf("mark for deletion: %w", err)
	}

	notifyStoreChanged(v)
	return nil
}

// notifyStoreChanged rings the doorbell for running monitors. Best effort:
// without a relay the post is lost and polling catches the change up.
func notifyStoreChanged(v *viper.Viper) {
	socket := v.GetString("socket")
	if socket == "" {
		socket = signal.SocketPath()
	}
	if bus, err := signal.Open(socket, nil); err == nil {
		bus.Post(signal.StoreChanged)
		bus.Close()
	}
}
