package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run one discovery cycle over the incoming directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.openApp(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			sum, err := a.scanner.RunOnce(cmd.Context())
			if err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Seen", "Created", "Failed", "Removed"},
				[][]string{{
					strconv.Itoa(sum.Seen),
					strconv.Itoa(sum.Created),
					strconv.Itoa(sum.Failed),
					strconv.Itoa(sum.Removed),
				}},
				[]columnAlignment{alignRight, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}
}

func newRescanCommand(ctx *commandContext) *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "rescan",
		Short: "Update the library index from the library directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.openApp(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			scan := a.lib.Rescan
			if full {
				scan = a.lib.FullRescan
			}
			sum, err := scan(cmd.Context())
			if err != nil {
				return fmt.Errorf("rescan: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Files", "Indexed", "Unchanged", "Removed", "Failed", "Duration"},
				[][]string{{
					strconv.Itoa(sum.FilesSeen),
					strconv.Itoa(sum.Indexed),
					strconv.Itoa(sum.Unchanged),
					strconv.Itoa(sum.Removed),
					strconv.Itoa(sum.Failed),
					sum.Duration().Round(time.Millisecond).String(),
				}},
				[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "Re-read every file, not only new and modified ones")
	return cmd
}
