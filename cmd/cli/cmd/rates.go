// Package cmd - rate table management
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"tree-estimator/adapters/ratefile"
	"tree-estimator/adapters/ratestore"
	"tree-estimator/core/rates"
	ierrors "tree-estimator/internal/errors"
)

var ratesCmd = &cobra.Command{
	Use:   "rates",
	Short: "Rate table management (operator only)",
	Long: `Rate table management commands.

Rates are effective-dated and never edited in place: a change of amount
closes the open record and starts a new one (supersede). Windows of one
subject never overlap.`,
}

var ratesMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending rate store migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		deps, err := openDeps(ctx, false)
		if err != nil {
			return err
		}
		defer deps.Close()
		if err := deps.Rates.Migrate(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "rate store is up to date")
		return nil
	},
}

var ratesImportCmd = &cobra.Command{
	Use:   "import <file.hcl>",
	Short: "Import an HCL rate table",
	Long: `Import rate records from an HCL file. Records already stored are skipped;
the rest are inserted in one transaction or not at all.

  rate "labor" "climber" {
    amount         = "45.00"
    effective_from = "2020-01-01"
  }`,
	Args: cobra.ExactArgs(1),
	RunE: runRatesImport,
}

var ratesExportCmd = &cobra.Command{
	Use:   "export [file.hcl]",
	Short: "Export every stored rate as HCL",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRatesExport,
}

var ratesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add one rate record",
	Args:  cobra.NoArgs,
	RunE:  runRatesAdd,
}

var ratesSupersedeCmd = &cobra.Command{
	Use:   "supersede",
	Short: "Change a rate from a date on",
	Long: `Close the open record of a subject on --from and start --amount on that day.
Calculations dated before --from keep resolving the old amount.`,
	Args: cobra.NoArgs,
	RunE: runRatesSupersede,
}

var ratesShowCmd = &cobra.Command{
	Use:   "show [kind/name]",
	Short: "Show rate history",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRatesShow,
}

var (
	rateKind   string
	rateName   string
	rateAmount string
	rateFrom   string
	rateTo     string
	rateNotes  string
	rateDryRun bool
	backupDir  string
)

func init() {
	rootCmd.AddCommand(ratesCmd)
	ratesCmd.AddCommand(ratesMigrateCmd)
	ratesCmd.AddCommand(ratesImportCmd)
	ratesCmd.AddCommand(ratesExportCmd)
	ratesCmd.AddCommand(ratesAddCmd)
	ratesCmd.AddCommand(ratesSupersedeCmd)
	ratesCmd.AddCommand(ratesShowCmd)

	ratesImportCmd.Flags().BoolVar(&rateDryRun, "dry-run", false, "check the file against stored rates without writing")
	for _, c := range []*cobra.Command{ratesImportCmd, ratesAddCmd, ratesSupersedeCmd} {
		c.Flags().StringVar(&backupDir, "backup-dir", "", "export the stored rates here before writing")
	}

	for _, c := range []*cobra.Command{ratesAddCmd, ratesSupersedeCmd} {
		c.Flags().StringVar(&rateKind, "kind", "", "rate kind (labor, equipment, vehicle, driver, margin, multiplier) [REQUIRED]")
		c.Flags().StringVar(&rateName, "name", "", "subject name, e.g. climber [REQUIRED]")
		c.Flags().StringVar(&rateAmount, "amount", "", "amount in currency or fraction [REQUIRED]")
		c.Flags().StringVar(&rateFrom, "from", "", "first effective day YYYY-MM-DD [REQUIRED]")
		c.MarkFlagRequired("kind")
		c.MarkFlagRequired("name")
		c.MarkFlagRequired("amount")
		c.MarkFlagRequired("from")
	}
	ratesAddCmd.Flags().StringVar(&rateTo, "to", "", "first day no longer effective YYYY-MM-DD (default open)")
	ratesAddCmd.Flags().StringVar(&rateNotes, "notes", "", "free-form notes")
}

// rateFlags parses the subject, amount and start date flags
func rateFlags() (rates.Subject, decimal.Decimal, civil.Date, error) {
	var bad []string
	kind, err := rates.ParseKind(rateKind)
	if err != nil {
		bad = append(bad, err.Error())
	}
	amount, err := decimal.NewFromString(rateAmount)
	if err != nil {
		bad = append(bad, fmt.Sprintf("--amount %q is not a number", rateAmount))
	}
	from, err := civil.ParseDate(rateFrom)
	if err != nil {
		bad = append(bad, fmt.Sprintf("--from %q is not a YYYY-MM-DD date", rateFrom))
	}
	if len(bad) > 0 {
		return rates.Subject{}, decimal.Zero, civil.Date{}, ierrors.New(ierrors.TypeValidation, strings.Join(bad, "; "))
	}
	subject := rates.Subject{Kind: kind, Name: strings.TrimSpace(rateName)}
	if err := subject.Validate(); err != nil {
		return rates.Subject{}, decimal.Zero, civil.Date{}, ierrors.Wrap(ierrors.TypeValidation, "invalid subject", err)
	}
	return subject, amount, from, nil
}

func runRatesImport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	records, err := ratefile.Load(args[0])
	if err != nil {
		return err
	}
	deps, err := openDeps(ctx, false)
	if err != nil {
		return err
	}
	defer deps.Close()

	if rateDryRun {
		stored, err := deps.Rates.All(ctx)
		if err != nil {
			return err
		}
		table, err := rates.NewTable(stored...)
		if err != nil {
			return err
		}
		known := make(map[string]bool, len(stored))
		for _, r := range stored {
			known[r.ID] = true
		}
		fresh := 0
		for _, r := range records {
			if known[r.ID] {
				continue
			}
			if err := table.Insert(r); err != nil {
				return err
			}
			fresh++
		}
		fmt.Fprintf(cmd.OutOrStdout(), "dry run: %d record(s) would be added, %d already stored\n", fresh, len(records)-fresh)
		return nil
	}

	if err := backupRates(ctx, cmd, deps.Rates); err != nil {
		return err
	}
	added, skipped, err := deps.Rates.Import(ctx, records)
	if err != nil {
		return err
	}
	subjects := make([]rates.Subject, len(records))
	for i, r := range records {
		subjects[i] = r.Subject
	}
	deps.InvalidateRates(ctx, rates.UniqueSubjects(subjects)...)
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d record(s), skipped %d already stored\n", added, skipped)
	return nil
}

// backupRates exports every stored record to a new file in backupDir.
// No write may happen when the backup fails.
func backupRates(ctx context.Context, cmd *cobra.Command, store *ratestore.Store) error {
	if backupDir == "" {
		return nil
	}
	records, err := store.All(ctx)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	path := filepath.Join(backupDir, "rates-"+time.Now().UTC().Format("20060102T150405.000000000Z")+".hcl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create backup: %w", err)
	}
	if err := ratefile.Write(f, records); err != nil {
		f.Close()
		return fmt.Errorf("write backup: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "backed up %d record(s) to %s\n", len(records), path)
	return nil
}

func runRatesExport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	deps, err := openDeps(ctx, false)
	if err != nil {
		return err
	}
	defer deps.Close()

	records, err := deps.Rates.All(ctx)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return ratefile.Write(cmd.OutOrStdout(), records)
	}

	f, err := os.Create(args[0])
	if err != nil {
		return err
	}
	if err := ratefile.Write(f, records); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "exported %d record(s) to %s\n", len(records), args[0])
	return nil
}

func runRatesAdd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	subject, amount, from, err := rateFlags()
	if err != nil {
		return err
	}
	var to *civil.Date
	if rateTo != "" {
		d, err := civil.ParseDate(rateTo)
		if err != nil {
			return ierrors.Wrap(ierrors.TypeValidation, fmt.Sprintf("--to %q is not a YYYY-MM-DD date", rateTo), err)
		}
		to = &d
	}
	record := rates.NewRecord(subject, amount, from, to)
	record.Notes = rateNotes

	deps, err := openDeps(ctx, false)
	if err != nil {
		return err
	}
	defer deps.Close()

	if err := backupRates(ctx, cmd, deps.Rates); err != nil {
		return err
	}
	if err := deps.Rates.Insert(ctx, record); err != nil {
		return err
	}
	deps.InvalidateRates(ctx, subject)
	fmt.Fprintf(cmd.OutOrStdout(), "added %s %s %s\n", subject, amount, record.Window())
	return nil
}

func runRatesSupersede(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	subject, amount, from, err := rateFlags()
	if err != nil {
		return err
	}
	deps, err := openDeps(ctx, false)
	if err != nil {
		return err
	}
	defer deps.Close()

	if err := backupRates(ctx, cmd, deps.Rates); err != nil {
		return err
	}
	closed, next, err := deps.Rates.Supersede(ctx, subject, amount, from)
	if err != nil {
		return err
	}
	deps.InvalidateRates(ctx, subject)

	out := cmd.OutOrStdout()
	if closed != nil {
		fmt.Fprintf(out, "closed %s %s %s\n", subject, closed.Amount, closed.Window())
	}
	fmt.Fprintf(out, "added  %s %s %s\n", subject, next.Amount, next.Window())
	return nil
}

func runRatesShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	deps, err := openDeps(ctx, false)
	if err != nil {
		return err
	}
	defer deps.Close()

	var records []rates.Record
	if len(args) == 1 {
		kind, name, ok := strings.Cut(args[0], "/")
		if !ok {
			return ierrors.Newf(ierrors.TypeValidation, "want kind/name, got %q", args[0])
		}
		k, err := rates.ParseKind(kind)
		if err != nil {
			return ierrors.Wrap(ierrors.TypeValidation, "invalid kind", err)
		}
		records, err = deps.Rates.History(ctx, rates.Subject{Kind: k, Name: name})
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return ierrors.NotFound("rate subject", args[0])
		}
	} else {
		records, err = deps.Rates.All(ctx)
		if err != nil {
			return err
		}
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tNAME\tAMOUNT\tWINDOW\tNOTES")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Subject.Kind, r.Subject.Name, r.Amount, r.Window(), r.Notes)
	}
	return w.Flush()
}
