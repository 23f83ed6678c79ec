// Package cmd - estimate and validate commands
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"tree-estimator/adapters/ratefile"
	"tree-estimator/core/input"
	"tree-estimator/core/output"
	"tree-estimator/internal/app"
	"tree-estimator/internal/config"
	ierrors "tree-estimator/internal/errors"
	"tree-estimator/internal/logging"
)

// jobFlags describe a job on the command line
type jobFlags struct {
	inputFile   string
	miles       string
	minutes     int
	crew        []string
	hours       string
	equipment   []string
	disposalFee string
	permitFee   string
	emergency   bool
	weekend     bool
	date        string
	vehicle     string
}

var (
	job          jobFlags
	outputFormat string
	saveResult   bool
	ratesFile    string
)

// estimateCmd represents the estimate command
var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Calculate a quote for a job",
	Long: `Calculate a quote from the rates in effect on the calculation date.

The job is given with flags or as a JSON document (--input, "-" for stdin).
Rates come from the configured rate store, or from an HCL rate file with --rates.

Examples:
  tree-estimator estimate --miles 15 --minutes 30 --crew climber,groundsman \
      --hours 4 --equipment chipper,stump_grinder --disposal-fee 50 --date 2024-03-15
  tree-estimator estimate --input job.json --format json --save`,
	Args: cobra.NoArgs,
	RunE: runEstimate,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a job without calculating it",
	Long: `Check bounds and rate references of a job and report every problem found.
Takes the same job flags as estimate.`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(estimateCmd)
	rootCmd.AddCommand(validateCmd)

	for _, c := range []*cobra.Command{estimateCmd, validateCmd} {
		addJobFlags(c, &job)
		c.Flags().StringVar(&ratesFile, "rates", "", "HCL rate file to use instead of the rate store")
	}
	estimateCmd.Flags().StringVarP(&outputFormat, "format", "f", "text", "output format (text, json)")
	estimateCmd.Flags().BoolVar(&saveResult, "save", false, "keep the result in the configured result store")
}

func addJobFlags(c *cobra.Command, f *jobFlags) {
	fs := c.Flags()
	fs.StringVarP(&f.inputFile, "input", "i", "", "JSON job file, - for stdin")
	fs.StringVar(&f.miles, "miles", "0", "one-way travel distance in miles")
	fs.IntVar(&f.minutes, "minutes", 0, "one-way travel time in minutes")
	fs.StringSliceVar(&f.crew, "crew", nil, "crew roles, one per member (climber,groundsman)")
	fs.StringVar(&f.hours, "hours", "", "on-site work hours")
	fs.StringSliceVar(&f.equipment, "equipment", nil, "equipment ids")
	fs.StringVar(&f.disposalFee, "disposal-fee", "0", "pass-through disposal fee")
	fs.StringVar(&f.permitFee, "permit-fee", "0", "pass-through permit fee")
	fs.BoolVar(&f.emergency, "emergency", false, "emergency call-out")
	fs.BoolVar(&f.weekend, "weekend", false, "weekend work")
	fs.StringVar(&f.date, "date", "", "calculation date YYYY-MM-DD (default today)")
	fs.StringVar(&f.vehicle, "vehicle", "", "vehicle type (default from config)")
}

// Input builds the calculation input from a JSON document or the job flags
func (f *jobFlags) Input(stdin io.Reader, today civil.Date) (input.CalculationInput, error) {
	if f.inputFile != "" {
		return readInput(f.inputFile, stdin)
	}

	verr := &input.ValidationError{}
	num := func(field, value string) decimal.Decimal {
		if value == "" {
			return decimal.Zero
		}
		d, err := decimal.NewFromString(value)
		if err != nil {
			verr.Add(field, fmt.Sprintf("%q is not a number", value), err)
		}
		return d
	}

	in := input.CalculationInput{
		TravelMiles:     num("travel_miles", f.miles),
		TravelMinutes:   f.minutes,
		Crew:            f.crew,
		WorkHours:       num("work_hours", f.hours),
		Equipment:       f.equipment,
		DisposalFee:     num("disposal_fee", f.disposalFee),
		PermitFee:       num("permit_fee", f.permitFee),
		Emergency:       f.emergency,
		Weekend:         f.weekend,
		CalculationDate: today,
		VehicleType:     f.vehicle,
	}
	if f.date != "" {
		d, err := civil.ParseDate(f.date)
		if err != nil {
			verr.Add("calculation_date", fmt.Sprintf("%q is not a YYYY-MM-DD date", f.date), err)
		}
		in.CalculationDate = d
	}
	if err := verr.Err(); err != nil {
		return input.CalculationInput{}, err
	}
	return in, nil
}

func readInput(path string, stdin io.Reader) (input.CalculationInput, error) {
	var in input.CalculationInput
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return in, fmt.Errorf("read job %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return in, ierrors.Parsing("invalid job document "+path, err)
	}
	return in, nil
}

// service returns the service for a command and a cleanup func
func service(ctx context.Context, withResults bool) (*app.Service, func(), error) {
	if ratesFile != "" {
		if withResults {
			return nil, nil, ierrors.New(ierrors.TypeConfig, "--save cannot be combined with --rates: saved results must reproduce from the rate store")
		}
		table, err := ratefile.LoadTable(ratesFile)
		if err != nil {
			return nil, nil, err
		}
		svc := app.NewService(table, config.Get().Calculator, app.WithLogger(logging.Named("cli")))
		return svc, func() {}, nil
	}

	deps, err := openDeps(ctx, withResults)
	if err != nil {
		return nil, nil, err
	}
	return deps.Service, func() { deps.Close() }, nil
}

func runEstimate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return ierrors.Wrap(ierrors.TypeValidation, "invalid --format", err)
	}
	in, err := job.Input(cmd.InOrStdin(), civil.DateOf(time.Now()))
	if err != nil {
		return err
	}

	svc, done, err := service(ctx, saveResult)
	if err != nil {
		return err
	}
	defer done()

	result, err := svc.Calculate(ctx, in)
	if err != nil {
		return err
	}
	if err := output.New(format).Render(cmd.OutOrStdout(), result); err != nil {
		return err
	}
	if saveResult {
		fmt.Fprintf(cmd.ErrOrStderr(), "saved calculation %s\n", result.ID)
	}
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	in, err := job.Input(cmd.InOrStdin(), civil.DateOf(time.Now()))
	if err != nil {
		return err
	}
	svc, done, err := service(ctx, false)
	if err != nil {
		return err
	}
	defer done()

	normalized, err := svc.Validate(ctx, in)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "valid")
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(normalized)
}
