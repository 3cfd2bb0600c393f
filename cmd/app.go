// Package cmd implements the memdbd command line: the server and the
// commands querying it.
package cmd

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"

	"github.com/etnz/memdb"
	"github.com/etnz/memdb/renderer"
	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
)

// Register the subcommands.
// A main package will call Register() to allow subcommands, and Execute() on the user-selected one.
func Register(c *subcommands.Commander) {
	c.Register(&serveCmd{}, "server")
	c.Register(&checkCmd{}, "server")

	c.Register(&statusCmd{}, "client")
	c.Register(&quoteCmd{}, "client")
	c.Register(&historyCmd{}, "client")
	c.Register(&reloadCmd{}, "client")

	c.Register(&splitsCmd{}, "providers")
}

// as a CLI application, it has a very short lived lifecycle, so it is ok to use global variables.

var configFile = flag.String("config", "memdb.yaml", "Path to the YAML configuration. Defaults apply when the file does not exist.")
var envFile = flag.String("env-file", ".env", "Path to a dotenv file holding the secrets")
var serverURL = flag.String("server", "http://localhost:8080", "URL of the memdbd server queried by the client commands")
var style = flag.String("style", "auto", "Terminal style of the markdown output: auto, dark, light or notty")

// loadConfig reads the configuration and creates the process logger.
func loadConfig() (memdb.Config, *logrus.Logger, error) {
	path := *configFile
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		path = ""
	}
	cfg, err := memdb.LoadConfig(path, *envFile)
	if err != nil {
		return cfg, nil, err
	}
	logger, err := memdb.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return cfg, nil, fmt.Errorf("invalid log configuration: %w", err)
	}
	if path == "" {
		logger.Warnf("%s not found, using the default configuration", *configFile)
	}
	return cfg, logger, nil
}

// printMarkdown renders md on the terminal, or prints it raw if it cannot.
func printMarkdown(md string) {
	out, err := renderer.Terminal(md, 120, *style)
	if err != nil {
		fmt.Print(md)
		return
	}
	fmt.Print(out)
}
