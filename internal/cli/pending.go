package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/llehouerou/shelf/internal/pending"
)

func newPendingCommand(ctx *commandContext) *cobra.Command {
	var (
		statuses []string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List items awaiting review",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := make([]pending.Status, 0, len(statuses))
			for _, s := range statuses {
				st := pending.Status(strings.TrimSpace(s))
				if !st.Valid() {
					return fmt.Errorf("unknown status %q", s)
				}
				filter = append(filter, st)
			}

			a, err := ctx.openApp(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			items, err := a.svc.List(cmd.Context(), filter...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(items)
			}
			if len(items) == 0 {
				fmt.Fprintln(out, "No pending items")
				return nil
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Status", "Title", "Artist", "Genre", "File", "Added"},
				pendingRows(items),
				nil,
			))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Only show items with these statuses")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print items as JSON")
	return cmd
}

func pendingRows(items []pending.Item) [][]string {
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		id := it.ID
		if len(id) > 8 {
			id = id[:8]
		}
		status := string(it.Status)
		if it.ErrorMessage != "" {
			status += ": " + it.ErrorMessage
		}
		rows = append(rows, []string{
			id,
			status,
			it.CurrentTitle,
			it.CurrentArtist,
			it.Genre,
			filepath.Base(it.SourcePath),
			humanize.Time(it.CreatedAt),
		})
	}
	return rows
}
