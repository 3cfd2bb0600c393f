package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/etnz/memdb/store"
	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type checkCmd struct {
	print bool
}

func (*checkCmd) Name() string     { return "check" }
func (*checkCmd) Synopsis() string { return "validate the configuration and reach the backing store" }
func (*checkCmd) Usage() string {
	return `memdbd check [-p]

  Validates the configuration, connects to Redis and, when configured, to
  Postgres, and reports whether the stored users and assets decode.
`
}

func (c *checkCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.print, "p", false, "Print the effective configuration, secrets excluded.")
}

func (c *checkCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, logger, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		return subcommands.ExitFailure
	}
	if c.print {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding configuration: %v\n", err)
			return subcommands.ExitFailure
		}
		os.Stdout.Write(out)
	}
	log := logrus.NewEntry(logger)

	rs, rc, err := store.DialRedis(ctx, cfg.Env.RedisURL, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer rc.Close()
	st := &store.Store{Redis: rs}
	if cfg.Env.PostgresDSN != "" {
		pg, err := store.OpenPostgres(ctx, cfg.Env.PostgresDSN)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return subcommands.ExitFailure
		}
		defer pg.Close()
		st.SQL = pg
	}
	if err := st.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}

	data, _, err := st.GetDataIfReloadNeeded(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading users and assets: %v\n", err)
		return subcommands.ExitFailure
	}
	fmt.Printf("✅ %d users and %d assets decoded.\n", len(data.Users), len(data.Assets))
	return subcommands.ExitSuccess
}
