package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clipdeck/clipd/internal/clipping"
)

func newHistoryCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the captured clipboard history, newest first",
		Long: `Lists surviving history entries from the shared store with a preview of
each entry's preferred representation. Tombstoned entries are shown so their
ids stay addressable until pruning removes them.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runHistory(v) },
	}

	f := cmd.Flags()
	f.Int("limit", defaultHistoryLimit, "maximum entries to list")
	addDataFlag(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runHistory(v *viper.Viper) error {
	s, err := openStore(v.GetString("data-dir"))
	if err != nil {
		return err
	}
	defer s.Close()

	entries, err := s.ListAll(context.Background(), v.GetInt("limit"))
	if err != nil {
		return fmt.Errorf("list history: %w", err)
	}

	for _, e := range entries {
		deleted := " "
		if e.MarkedForDeletion {
			deleted = "D"
		}
		fmt.Printf("%s %s %-5s %s  %s\n",
			deleted,
			e.ID,
			e.Preferred.Kind,
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			preview(e.Preferred),
		)
	}
	return nil
}

// preview renders one line of an entry's preferred representation.
func preview(r *clipping.Representation) string {
	switch r.Kind {
	case clipping.KindPlainText:
		return oneLine(r.StringValue())
	case clipping.KindRichText:
		return fmt.Sprintf("[%s, %d bytes]", r.TypeTag, len(r.RichValue()))
	case clipping.KindURL:
		return r.URLValue().String()
	case clipping.KindImage:
		cfg, format, err := r.ImageConfig()
		if errors.Is(err, clipping.ErrUnsupportedImageFormat) {
			return fmt.Sprintf("[image %s, %d bytes, undecodable]", r.TypeTag, len(r.ImageValue()))
		}
		if err != nil {
			return fmt.Sprintf("[image %s, %d bytes]", r.TypeTag, len(r.ImageValue()))
		}
		return fmt.Sprintf("[%s %dx%d]", format, cfg.Width, cfg.Height)
	}
	return "[?]"
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	const max = 72
	runes := []rune(s)
	if len(runes) > max {
		return string(runes[:max]) + "..."
	}
	return s
}
