// Command memdbd serves the in-memory market database and queries it.
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/etnz/memdb/cmd"
	"github.com/etnz/memdb/realtime"
	"github.com/google/subcommands"
	"github.com/posener/complete/v2"
	"github.com/posener/complete/v2/predict"
)

func main() {
	name := path.Base(os.Args[0])
	completion().Complete(name)

	commander := subcommands.NewCommander(flag.CommandLine, name)
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")
	cmd.Register(commander)

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}

// completion describes the commands to the shell, installed with
// COMP_INSTALL=1 memdbd.
func completion() *complete.Command {
	tickers := predict.Set(realtime.DefaultConfig().MidTickers)
	flags := map[string]complete.Predictor{
		"config":   predict.Files("*.yaml"),
		"env-file": predict.Files("*"),
		"server":   predict.Nothing,
		"style":    predict.Set{"auto", "dark", "light", "notty"},
	}
	return &complete.Command{
		Flags: flags,
		Sub: map[string]*complete.Command{
			"serve":   {Flags: map[string]complete.Predictor{"listen": predict.Nothing}},
			"check":   {Flags: map[string]complete.Predictor{"p": predict.Nothing}},
			"status":  {},
			"quote":   {Args: tickers},
			"history": {Args: tickers, Flags: map[string]complete.Predictor{"from": predict.Nothing}},
			"reload":  {Flags: map[string]complete.Predictor{"history": predict.Nothing}},
			"splits":  {Flags: map[string]complete.Predictor{"d": predict.Nothing}},
			"help":    {},
		},
	}
}
