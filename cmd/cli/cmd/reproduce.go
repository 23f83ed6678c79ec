package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"cloud.google.com/go/civil"
	"github.com/spf13/cobra"

	"tree-estimator/adapters/storage"
	"tree-estimator/core/engine"
	"tree-estimator/core/output"
	ierrors "tree-estimator/internal/errors"
)

var (
	resultFile    string
	reproduceFmt  string
	historyFrom   string
	historyTo     string
	historyLimit  int
	historyFormat string
)

var reproduceCmd = &cobra.Command{
	Use:   "reproduce [id]",
	Short: "Re-run a stored calculation and compare it",
	Long: `Re-run a stored calculation with its stored input and calculation date
against the current rate history. Any differing field is reported and the
command exits with status 4.

The result is read from the result store by id, or from a file with --result.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReproduce,
}

var historyCmd = &cobra.Command{
	Use:     "history",
	Aliases: []string{"list"},
	Short:   "List stored calculations",
	Args:    cobra.NoArgs,
	RunE:    runHistory,
}

func init() {
	rootCmd.AddCommand(reproduceCmd)
	rootCmd.AddCommand(historyCmd)

	reproduceCmd.Flags().StringVar(&resultFile, "result", "", "stored result JSON file")
	reproduceCmd.Flags().StringVarP(&reproduceFmt, "format", "f", "text", "output format for the fresh result (text, json)")

	historyCmd.Flags().StringVar(&historyFrom, "from", "", "first calculation date, inclusive")
	historyCmd.Flags().StringVar(&historyTo, "to", "", "last calculation date, exclusive")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 0, "maximum number of results")
	historyCmd.Flags().StringVarP(&historyFormat, "format", "f", "text", "output format (text, json)")
}

func runReproduce(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if (len(args) == 0) == (resultFile == "") {
		return ierrors.New(ierrors.TypeValidation, "give either a calculation id or --result")
	}
	format, err := output.ParseFormat(reproduceFmt)
	if err != nil {
		return ierrors.Wrap(ierrors.TypeValidation, "invalid --format", err)
	}

	deps, err := openDeps(ctx, resultFile == "")
	if err != nil {
		return err
	}
	defer deps.Close()

	var fresh *engine.Result
	var id string
	if resultFile != "" {
		stored, rerr := readResult(resultFile)
		if rerr != nil {
			return rerr
		}
		id = stored.ID
		fresh, err = deps.Service.ReproduceResult(ctx, stored)
	} else {
		id = args[0]
		fresh, err = deps.Service.Reproduce(ctx, id)
	}
	if fresh != nil {
		if rerr := output.New(format).Render(cmd.OutOrStdout(), fresh); rerr != nil {
			return rerr
		}
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "calculation %s reproduces exactly\n", id)
	return nil
}

func readResult(path string) (*engine.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read result %s: %w", path, err)
	}
	var result engine.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, ierrors.Parsing("invalid result document "+path, err)
	}
	return &result, nil
}

func listFilter() (*storage.ListFilter, error) {
	filter := &storage.ListFilter{Limit: historyLimit}
	var err error
	if historyFrom != "" {
		if filter.From, err = civil.ParseDate(historyFrom); err != nil {
			return nil, ierrors.Parsing("invalid --from", err)
		}
	}
	if historyTo != "" {
		if filter.To, err = civil.ParseDate(historyTo); err != nil {
			return nil, ierrors.Parsing("invalid --to", err)
		}
	}
	return filter, nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	filter, err := listFilter()
	if err != nil {
		return err
	}
	format, err := output.ParseFormat(historyFormat)
	if err != nil {
		return ierrors.Wrap(ierrors.TypeValidation, "invalid --format", err)
	}

	deps, err := openDeps(ctx, true)
	if err != nil {
		return err
	}
	defer deps.Close()

	results, err := deps.Service.List(ctx, filter)
	if err != nil {
		return err
	}

	if format == output.FormatJSON {
		if results == nil {
			results = []*engine.Result{}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATE\tCALCULATED AT\tTOTAL")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.Input.CalculationDate,
			r.CalculatedAt.UTC().Format("2006-01-02 15:04:05"), r.FinalTotal.StringFixed(2))
	}
	return w.Flush()
}
