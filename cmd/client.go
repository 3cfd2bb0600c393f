package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/subcommands"
)

var httpClient = &http.Client{Timeout: time.Minute}

// call sends a request to the server and returns the body of a successful
// response.
func call(ctx context.Context, method, path string, query url.Values) (string, error) {
	u := strings.TrimSuffix(*serverURL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/markdown")
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(body)))
	}
	return string(body), nil
}

// printCall prints the markdown answer of the server.
func printCall(ctx context.Context, method, path string, query url.Values) subcommands.ExitStatus {
	md, err := call(ctx, method, path, query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	printMarkdown(md)
	return subcommands.ExitSuccess
}

type statusCmd struct{}

func (*statusCmd) Name() string     { return "status" }
func (*statusCmd) Synopsis() string { return "display the diagnostics of a running server" }
func (*statusCmd) Usage() string {
	return `memdbd status

  Displays the generation, readiness, last reload, real-time tiers and broker
  accounts of the server given by -server.
`
}
func (*statusCmd) SetFlags(f *flag.FlagSet) {}
func (*statusCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return printCall(ctx, http.MethodGet, "/status", nil)
}

type quoteCmd struct{}

func (*quoteCmd) Name() string     { return "quote" }
func (*quoteCmd) Synopsis() string { return "display the cached real-time values of assets" }
func (*quoteCmd) Usage() string {
	return `memdbd quote <ticker>...

  Displays the last and prior close values cached by the server. Querying an
  asset moves it to the most frequently polled tier for a while.

Usage Examples:
$ memdbd quote S/SPY N/DC.IM
`
}
func (*quoteCmd) SetFlags(f *flag.FlagSet) {}
func (*quoteCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Error: at least one ticker is required")
		return subcommands.ExitUsageError
	}
	status := subcommands.ExitSuccess
	for _, ticker := range f.Args() {
		if s := printCall(ctx, http.MethodGet, "/quote/"+ticker, nil); s != subcommands.ExitSuccess {
			status = s
		}
	}
	return status
}

type historyCmd struct {
	from string
}

func (*historyCmd) Name() string     { return "history" }
func (*historyCmd) Synopsis() string { return "display the daily closes of an asset" }
func (*historyCmd) Usage() string {
	return `memdbd history [-from <date>] <ticker>

  Displays the split adjusted daily closes held in memory, newest first.
`
}
func (c *historyCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.from, "from", "", "Oldest date to display, YYYY-MM-DD.")
}
func (c *historyCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: one ticker is required")
		return subcommands.ExitUsageError
	}
	var q url.Values
	if c.from != "" {
		q = url.Values{"from": {c.from}}
	}
	return printCall(ctx, http.MethodGet, "/history/"+f.Arg(0), q)
}

type reloadCmd struct {
	history bool
}

func (*reloadCmd) Name() string     { return "reload" }
func (*reloadCmd) Synopsis() string { return "ask a running server to reload" }
func (*reloadCmd) Usage() string {
	return `memdbd reload [-history]

  Reloads users, assets and history if the backing store changed, or only
  the history with -history. Fails if a reload is already running.
`
}
func (c *reloadCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.history, "history", false, "Rebuild the history only.")
}
func (c *reloadCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	var q url.Values
	if c.history {
		q = url.Values{"kind": {"history"}}
	}
	out, err := call(ctx, http.MethodPost, "/reload", q)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	fmt.Print(out)
	return subcommands.ExitSuccess
}
