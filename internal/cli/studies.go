package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/eargollo/dicomcat/internal/session"
)

func newStudiesCmd(a *app) *cobra.Command {
	var (
		asJSON    bool
		batchSize int
	)
	cmd := &cobra.Command{
		Use:   "studies",
		Short: "List catalogued studies as upload sessions",
		Long: `Group the catalog by study, settle each study's modality and print the
resulting sessions. Studies whose modality is ambiguous or whose files name
several patients are listed separately as problems.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			res, err := session.Assemble(cmd.Context(), store)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeStudiesJSON(out, res, batchSize)
			}
			return writeStudiesTable(out, res, batchSize)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.Flags().IntVar(&batchSize, "batch-size", session.DefaultBatchSize, "sessions per upload batch")
	return cmd
}

func writeStudiesJSON(w io.Writer, res session.Result, batchSize int) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		session.Result
		Batches [][]session.Session `json:"batches"`
	}{res, session.Batch(res.Sessions, batchSize)})
}

func writeStudiesTable(w io.Writer, res session.Result, batchSize int) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BATCH\tEXPERIMENT\tPATIENT\tMODALITY\tFILES\tSTUDY UID")
	for i, batch := range session.Batch(res.Sessions, batchSize) {
		for _, s := range batch {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
				i+1, s.ExperimentID, s.PatientID, s.Modality, humanize.Comma(int64(s.Files)), s.StudyUID)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%s sessions", humanize.Comma(int64(len(res.Sessions))))
	if len(res.Problems) == 0 {
		fmt.Fprintln(w)
		return nil
	}
	fmt.Fprintf(w, ", %s problems:\n", humanize.Comma(int64(len(res.Problems))))
	for _, p := range res.Problems {
		fmt.Fprintf(w, "  %s (%s): %s\n", p.StudyUID, p.PatientID, p.Error)
	}
	return nil
}
