package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"text/tabwriter"
	"time"

	"go-meshy-generate/internal/models"
	"go-meshy-generate/internal/tasks"

	"github.com/gosuri/uilive"
	"github.com/spf13/cobra"
)

var (
	taskListPageSize int
	taskListPage     int
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Inspect text-to-3D jobs on the service",
}

var taskGetCmd = &cobra.Command{
	Use:   "get <task-id>",
	Short: "Print one task as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireAPIKey(globalConfig); err != nil {
			return err
		}
		client := newAPIClient(globalConfig, globalHttpTransport)
		task, err := client.GetTask(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), task)
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireAPIKey(globalConfig); err != nil {
			return err
		}
		client := newAPIClient(globalConfig, globalHttpTransport)
		list, err := client.ListTasks(cmd.Context(), taskListPageSize, taskListPage)
		if err != nil {
			return err
		}
		return printTaskTable(cmd.OutOrStdout(), list)
	},
}

var taskWatchCmd = &cobra.Command{
	Use:   "watch <task-id>",
	Short: "Follow the progress of an existing task until it finishes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireAPIKey(globalConfig); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client := newAPIClient(globalConfig, globalHttpTransport)
		return watchTask(ctx, newSupervisor(globalConfig, client), args[0], cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(taskGetCmd, taskListCmd, taskWatchCmd)

	taskListCmd.Flags().IntVar(&taskListPageSize, "page-size", 10, "Tasks per page")
	taskListCmd.Flags().IntVar(&taskListPage, "page", 1, "Page number, starting at 1")
}

// watchTask awaits jobID and prints its final state.
func watchTask(ctx context.Context, s *tasks.Supervisor, jobID string, out io.Writer) error {
	writer := uilive.New()
	writer.Out = out
	live := liveWriter{w: writer}

	final, err := s.Await(ctx, jobID, func(ev models.TaskEvent) {
		fmt.Fprintf(live, "%s [%s]: %.0f%%\n", ev.ID, ev.Status, ev.Progress)
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(live, "%s [%s]: %.0f%%\n", final.ID, final.Status, final.Progress)
	if final.Status != models.TaskSucceeded {
		return fmt.Errorf("task %s finished with status %s: %s", final.ID, final.Status, final.ErrorMessage())
	}
	formats := make([]string, 0, len(final.ModelURLs))
	for format := range final.ModelURLs {
		formats = append(formats, format)
	}
	slices.Sort(formats)
	for _, format := range formats {
		fmt.Fprintf(out, "%s: %s\n", format, final.ModelURLs[format])
	}
	return nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTaskTable(out io.Writer, list []models.TaskEvent) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMODE\tSTATUS\tPROGRESS\tCREATED\tPROMPT")
	for _, t := range list {
		created := ""
		if t.CreatedAt > 0 {
			created = time.UnixMilli(t.CreatedAt).Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.0f%%\t%s\t%s\n", t.ID, t.Mode, t.Status, t.Progress, created, t.Prompt)
	}
	return tw.Flush()
}
