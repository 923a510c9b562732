package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newErrorsCmd(a *app) *cobra.Command {
	var (
		dirname       string
		limit, offset int
	)
	cmd := &cobra.Command{
		Use:   "errors",
		Short: "List files whose header could not be read",
		Example: `  dicomcat errors
  dicomcat errors --dirname "/mnt/data/AJ/P001/CT" --limit 20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			items, total, err := store.ListErrors(cmd.Context(), dirname, limit, offset)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FILE\tERROR")
			for _, e := range items {
				fmt.Fprintf(tw, "%s\t%s\n", e.FilePath, e.Error)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "\nshowing %d of %s\n", len(items), humanize.Comma(int64(total)))
			return nil
		},
	}
	cmd.Flags().StringVar(&dirname, "dirname", "", "only errors recorded for this directory")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "max rows")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	return cmd
}
