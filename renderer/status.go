// Package renderer renders the database diagnostics and quotes as markdown,
// for the terminal and for the HTML status page.
package renderer

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/etnz/memdb"
)

// StatusMarkdown renders the diagnostic view of the database.
func StatusMarkdown(s memdb.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# MemDb status\n\n")
	fmt.Fprintf(&b, "Generation %d published %s, now %s (%v session).\n\n",
		s.Generation, formatTime(s.Published), formatTime(s.Now), s.Session)

	fmt.Fprintln(&b, "## Readiness")
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "| Event | Fired |")
	fmt.Fprintln(&b, "|:---|:---:|")
	for _, r := range s.Ready {
		fmt.Fprintf(&b, "| %v | %s |\n", r.Event, check(r.Fired))
	}
	fmt.Fprintln(&b)
	if s.Reloading {
		fmt.Fprintln(&b, "A reload is running.")
		fmt.Fprintln(&b)
	}

	fmt.Fprintln(&b, "## Registry")
	fmt.Fprintln(&b)
	fmt.Fprintf(&b, "%d users (%d humans), %d assets of which %d added at runtime.\n\n", s.Users, s.HumanUsers, s.Assets, s.Runtime)
	ConditionalBlock(&b, func(w io.Writer) bool {
		fmt.Fprintln(w, "| Type | Assets |")
		fmt.Fprintln(w, "|:---|---:|")
		for _, c := range s.ByType {
			fmt.Fprintf(w, "| %v | %d |\n", c.Type, c.Count)
		}
		fmt.Fprintln(w)
		return len(s.ByType) > 0
	})

	fmt.Fprintln(&b, "## History")
	fmt.Fprintln(&b)
	if s.Dates == 0 {
		fmt.Fprintln(&b, "No history loaded.")
	} else {
		fmt.Fprintf(&b, "%d assets over %d dates from %v to %v, %s in memory.\n", s.SeriesAssets, s.Dates, s.Oldest, s.Newest, formatBytes(s.MemUsed))
	}
	fmt.Fprintln(&b)

	r := s.LastReload
	if r.ID != "" {
		fmt.Fprintln(&b, "## Last reload")
		fmt.Fprintln(&b)
		fmt.Fprintf(&b, "%s reload `%s` started %s, took %v.\n\n", r.Kind, r.ID, formatTime(r.At), r.Took.Round(time.Millisecond))
		if r.Error != "" {
			fmt.Fprintf(&b, "**Failed**: %s\n\n", r.Error)
		}
		fmt.Fprintf(&b, "%d series fetched, %d missing splits applied.\n\n", r.Fetched, r.Splits)
		if len(r.Reused) > 0 {
			fmt.Fprintf(&b, "Previous series kept: %s\n\n", strings.Join(r.Reused, ", "))
		}
		if len(r.Failed) > 0 {
			fmt.Fprintf(&b, "No data: %s\n\n", strings.Join(r.Failed, ", "))
		}
	}

	ConditionalBlock(&b, func(w io.Writer) bool {
		fmt.Fprintln(w, "## Real-time tiers")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "| Tier | Assets | Provider | Interval | Runs | Last success | Last error |")
		fmt.Fprintln(w, "|:---|---:|:---|---:|---:|:---|:---|")
		for _, t := range s.Tiers {
			fmt.Fprintf(w, "| %v | %d | %s | %v | %d | %s | %s |\n",
				t.Tier, t.Assets, t.Provider, t.Interval, t.Runs, formatTime(t.LastSuccess), escape(t.LastError))
		}
		fmt.Fprintln(w)
		return len(s.Tiers) > 0
	})

	ConditionalBlock(&b, func(w io.Writer) bool {
		fmt.Fprintln(w, "## Broker accounts")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "| Gateway | NAV | Net liquidation | Positions | Unrecognized | Updated |")
		fmt.Fprintln(w, "|:---|:---|---:|---:|:---|:---|")
		for _, a := range s.Accounts {
			fmt.Fprintf(w, "| %s | %s | %s | %d | %s | %s |\n",
				a.Gateway, a.Nav, formatAmount(a.NetLiquidation, "USD"), a.Positions, strings.Join(a.Unrecognized, " "), formatTime(a.LastUpdate))
		}
		fmt.Fprintln(w)
		return len(s.Accounts) > 0
	})
	return b.String()
}

func check(ok bool) string {
	if ok {
		return "X"
	}
	return " "
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format("2006-01-02 15:04:05 MST")
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}

// escape keeps s inside one table cell.
func escape(s string) string {
	return strings.NewReplacer("|", `\|`, "\n", " ").Replace(s)
}
