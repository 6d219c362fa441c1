package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sourceplane/stepflow/internal/render"
	"github.com/sourceplane/stepflow/internal/store"
)

var (
	historyArchive string
	historyLimit   int
	historyFormat  string
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List archived runs or show one report",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return showHistory(args)
	},
}

func registerHistoryCommand(root *cobra.Command) {
	root.AddCommand(historyCmd)

	historyCmd.Flags().StringVar(&historyArchive, "archive", "", "sqlite archive path (overrides archive.path)")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to list")
	historyCmd.Flags().StringVarP(&historyFormat, "format", "f", "json", "Report format when showing one run: json, yaml, debug")
}

func showHistory(args []string) error {
	if historyArchive != "" {
		cfg.Archive.Path = historyArchive
	}
	if cfg.Archive.Path == "" {
		return fmt.Errorf("no archive configured (set archive.path, STEPFLOW_ARCHIVE or --archive)")
	}

	archive, err := store.Open(cfg.Archive.Path)
	if err != nil {
		return err
	}
	defer archive.Close()

	ctx := context.Background()

	if len(args) == 1 {
		report, err := archive.Get(ctx, args[0])
		if err != nil {
			return err
		}
		r := render.NewRenderer()
		if historyFormat == "debug" {
			fmt.Print(r.DebugDump(report))
			return nil
		}
		data, err := r.Render(report, historyFormat)
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	summaries, err := archive.List(ctx, historyLimit)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Println("No archived runs")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tPLAN\tSTARTED\tSTEPS\tFAILED\tRESULT")
	for _, s := range summaries {
		result := "✓ success"
		switch {
		case s.Cancelled:
			result = "- cancelled"
		case !s.Success:
			result = "✗ failed"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			s.RunID, s.Plan, s.StartedAt.Local().Format("2006-01-02 15:04:05"), s.Steps, s.Failed, result)
	}
	return w.Flush()
}
