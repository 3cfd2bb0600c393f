package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/etnz/memdb/date"
	"github.com/etnz/memdb/history"
	"github.com/etnz/memdb/nasdaq"
	"github.com/etnz/memdb/renderer"
	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
)

type splitsCmd struct {
	date string
}

func (*splitsCmd) Name() string     { return "splits" }
func (*splitsCmd) Synopsis() string { return "list the splits of the exchange calendar" }
func (*splitsCmd) Usage() string {
	return `memdbd splits [-d <date>]

  Lists the splits the exchange calendar announces around a day, as used to
  correct the price histories.
`
}

func (c *splitsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.date, "d", date.Today().String(), "Day of the calendar, YYYY-MM-DD.")
}

func (c *splitsCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	on, err := date.Parse(c.date)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing date: %v\n", err)
		return subcommands.ExitUsageError
	}
	cfg, logger, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		return subcommands.ExitFailure
	}
	cal := nasdaq.New(cfg.Providers.NasdaqURL, httpClient, logrus.NewEntry(logger))
	splits, err := cal.Splits(ctx, on)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	printMarkdown(splitsMarkdown(on, splits))
	return subcommands.ExitSuccess
}

func splitsMarkdown(on date.Date, splits []history.CalendarSplit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Splits around %v\n\n", on)
	renderer.ConditionalBlock(&b, func(w io.Writer) bool {
		fmt.Fprintln(w, "| Symbol | Date | Ratio | Multiplier |")
		fmt.Fprintln(w, "|:---|:---|:---:|---:|")
		for _, s := range splits {
			m, _ := s.Split.Multiplier()
			fmt.Fprintf(w, "| %s | %v | %v:%v | %g |\n", s.Symbol, s.Split.Date, s.Split.After, s.Split.Before, m)
		}
		return len(splits) > 0
	})
	if len(splits) == 0 {
		fmt.Fprintln(&b, "No split.")
	}
	return b.String()
}
