package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/mauv0809/splitadjust/internal/adjust"
	"github.com/mauv0809/splitadjust/internal/ingest"
	"github.com/mauv0809/splitadjust/internal/logging"
	"github.com/mauv0809/splitadjust/internal/models"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// options holds the command line flags.
type options struct {
	prices       []string
	splits       string
	asOf         string
	out          string
	workers      int
	legacyAnchor bool

	checkID   int64
	checkFrom string
	checkTo   string

	verbose bool
}

var (
	opts   options
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "adjust",
	Short: "Adjust daily price history for stock splits",
	Long: `Reads price-volume files and a split file, divides close and closeUsd and
multiplies volume by the cumulative factor of every split known on the
knowledge date that took effect after each pricing date.

Example:
  adjust --prices prices_1.zip --prices prices_2.zip --splits splits.csv \
    --as-of 2019-03-31 --out adjusted.csv`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := "info"
		if opts.verbose {
			level = "debug"
		}
		var err error
		logger, err = logging.New(level, opts.verbose)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(opts, logger, cmd.OutOrStdout())
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringArrayVar(&opts.prices, "prices", nil, "price-volume CSV or zip file (repeatable)")
	f.StringVar(&opts.splits, "splits", "", "split CSV or zip file")
	f.StringVar(&opts.asOf, "as-of", "2019-03-31", "knowledge date (YYYY-MM-DD)")
	f.StringVar(&opts.out, "out", "", "write adjusted prices to this CSV file")
	f.IntVar(&opts.workers, "workers", 1, "securities adjusted concurrently")
	f.BoolVar(&opts.legacyAnchor, "legacy-anchor", false, "leave prices older than the earliest split unscaled")
	f.Int64Var(&opts.checkID, "check-id", 2590360, "trading item id to print after the run (0 disables)")
	f.StringVar(&opts.checkFrom, "check-from", "2014-06-03", "first pricing date printed")
	f.StringVar(&opts.checkTo, "check-to", "2014-06-13", "last pricing date printed")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	_ = rootCmd.MarkFlagRequired("prices")
	_ = rootCmd.MarkFlagRequired("splits")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(o options, logger *zap.Logger, stdout io.Writer) error {
	asOf, err := models.ParseDate("as-of", o.asOf)
	if err != nil {
		return err
	}
	if o.workers < 1 {
		return errors.New("--workers must be >= 1")
	}

	loadStart := time.Now()
	prices, err := ingest.LoadPriceFiles(o.prices...)
	if err != nil {
		return fmt.Errorf("loading prices: %w", err)
	}
	splits, err := ingest.LoadSplitFile(o.splits)
	if err != nil {
		return fmt.Errorf("loading splits: %w", err)
	}
	logger.Info("Loaded input",
		zap.Int("price_rows", len(prices.Rows)),
		zap.Int("split_events", len(splits)))
	fmt.Fprintf(stdout, "load time: %s\n", time.Since(loadStart))

	adjOpts := []adjust.Option{adjust.WithWorkers(o.workers), adjust.WithLogger(logger)}
	if o.legacyAnchor {
		adjOpts = append(adjOpts, adjust.WithLegacyAnchor())
	}
	start := time.Now()
	res, err := adjust.New(adjOpts...).Adjust(prices, splits, asOf)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "overall time: %s\n", time.Since(start))

	if o.out != "" {
		if err := writeOutput(o.out, res.Table); err != nil {
			return err
		}
		logger.Info("Wrote adjusted prices", zap.String("path", o.out), zap.Int("rows", len(res.Table.Rows)))
	}

	for _, w := range res.Warnings {
		fmt.Fprintf(stdout, "warning: %s\n", w)
	}

	if o.checkID != 0 {
		return printCheck(stdout, res.Table, o)
	}
	return nil
}

func writeOutput(path string, t models.PriceTable) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	if err := ingest.WriteCSV(f, t); err != nil {
		f.Close()
		return fmt.Errorf("writing output: %w", err)
	}
	return f.Close()
}

// printCheck prints the adjusted rows of one security within a date window.
func printCheck(w io.Writer, t models.PriceTable, o options) error {
	from, err := models.ParseDate("check-from", o.checkFrom)
	if err != nil {
		return err
	}
	to, err := models.ParseDate("check-to", o.checkTo)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t\n",
		models.ColSecurityID, models.ColPricingDate, models.ColClose, models.ColCloseUSD, models.ColVolume)
	for _, r := range t.Rows {
		if r.SecurityID != o.checkID || r.PricingDate.Before(from) || r.PricingDate.After(to) {
			continue
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t\n",
			r.SecurityID, r.PricingDate.Format(models.DateLayout),
			cell(r.Close), cell(r.CloseUSD), cell(r.Volume))
	}
	return tw.Flush()
}

func cell(d decimal.NullDecimal) string {
	if !d.Valid {
		return "NaN"
	}
	return d.Decimal.String()
}
