package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"go-meshy-generate/internal/models"

	"github.com/spf13/cobra"
)

var (
	historySearch string
	historyLimit  int
	historyJSON   bool
	historyDelete string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past generations from the local run ledger",
	Long: `Lists the generations recorded in the local ledger, newest first.
With --search, runs a full-text query over prompts, texture prompts and
file names (for example: --search "lantern" or --search "+status:Failed").
With --delete, removes the run with the given key from the ledger and the index.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		hist, err := openHistory(globalConfig)
		if err != nil {
			return fmt.Errorf("opening run history: %w", err)
		}
		defer hist.Close()

		if historyDelete != "" {
			if err := hist.remove(historyDelete); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", historyDelete)
			return nil
		}

		var records []models.RunRecord
		if historySearch != "" {
			records, err = hist.search(historySearch, historyLimit)
		} else {
			records, err = hist.recent(historyLimit)
		}
		if err != nil {
			return err
		}
		if historyJSON {
			return printJSON(cmd.OutOrStdout(), records)
		}
		return printHistory(cmd.OutOrStdout(), records)
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVarP(&historySearch, "search", "s", "", "Full-text query over recorded runs")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "Maximum number of runs to show")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Print records as JSON")
	historyCmd.Flags().StringVar(&historyDelete, "delete", "", "Delete the run with this key")
}

func printHistory(out io.Writer, records []models.RunRecord) error {
	if len(records) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tWHEN\tSTATUS\tFILE\tPREVIEW\tREFINE\tPROMPT")
	for _, r := range records {
		when := time.Unix(r.Timestamp, 0).Format(time.DateTime)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", r.Key, when, r.Status, r.FileName, r.PreviewTaskID, r.RefineTaskID, r.Prompt)
		if r.ErrorDetails != "" {
			fmt.Fprintf(tw, "\t\t\t\t\t\terror: %s\n", r.ErrorDetails)
		}
	}
	return tw.Flush()
}
