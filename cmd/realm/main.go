package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/wbrown/janus-realm/internal/fixtures"
	"github.com/wbrown/janus-realm/realm/annotations"
	"github.com/wbrown/janus-realm/realm/db"
	"github.com/wbrown/janus-realm/realm/schema"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	DB       string
	Schema   string
	InMemory bool
	Verbose  bool
}

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// NewRootCommand creates the root command for the realm CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "realm",
		Short: "Inspect and query realm files",
		Long: `An embedded object store with live queries.

Without --schema the demo schema (Owner, Dog, Cat and the test types) is used.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.DB, "db", "realm.db", "realm directory, or realm name with --memory")
	cmd.PersistentFlags().StringVar(&opts.Schema, "schema", "", "YAML schema file")
	cmd.PersistentFlags().BoolVar(&opts.InMemory, "memory", false, "open an in-memory realm")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "show transaction and query annotations")

	cmd.AddCommand(newSchemaCommand(opts))
	cmd.AddCommand(newCountCommand(opts))
	cmd.AddCommand(newFindCommand(opts))
	cmd.AddCommand(newAggregateCommand(opts))
	cmd.AddCommand(newDemoCommand(opts))

	return cmd
}

func (o *RootOptions) loadSchema() (*schema.Schema, error) {
	if o.Schema == "" {
		return fixtures.Full(), nil
	}
	return schema.LoadFile(o.Schema)
}

// open opens the realm named by the flags. With --verbose, annotations and
// debug logs go to errw.
func (o *RootOptions) open(errw io.Writer) (*db.Realm, error) {
	s, err := o.loadSchema()
	if err != nil {
		return nil, err
	}
	var cfg db.Config
	if o.InMemory {
		cfg = db.InMemoryConfig(o.DB, s)
	} else {
		cfg = db.DefaultConfig(o.DB, s)
	}
	if o.Verbose {
		formatter := annotations.NewOutputFormatter(errw)
		cfg.Annotations = annotations.Handler(formatter.Handle)
		cfg.Logger = slog.New(slog.NewTextHandler(errw, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return db.Open(cfg)
}
