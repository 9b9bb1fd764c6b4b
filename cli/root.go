// Package cli implements the docstore command line.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/stevemurr/docstore/config"
	"github.com/stevemurr/docstore/docdb"
	"github.com/stevemurr/docstore/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Backend         string
	Location        string
	Database        string
	CollectionsFile string
	LogLevel        string

	cfg config.Config
}

// NewRootCommand creates the root command. Flag defaults come from the
// environment, see config.FromEnv.
func NewRootCommand() *cobra.Command {
	cfg := config.FromEnv()
	opts := &RootOptions{cfg: cfg}

	cmd := &cobra.Command{
		Use:           "docstore",
		Short:         "Embeddable document store",
		Long:          "A document store that keeps collections of JSON documents in one snapshot per database.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if _, err := zapcore.ParseLevel(opts.LogLevel); err != nil {
				return fmt.Errorf("invalid log level %q: %w", opts.LogLevel, err)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", cfg.Backend, "storage backend (json|sqlite|redis|memory)")
	cmd.PersistentFlags().StringVar(&opts.Location, "location", cfg.Location, "backend location: directory or redis URL")
	cmd.PersistentFlags().StringVar(&opts.Database, "database", cfg.Database, "database name")
	cmd.PersistentFlags().StringVar(&opts.CollectionsFile, "collections", cfg.CollectionsFile, "YAML file describing capped collections")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", cfg.LogLevel, "log level (debug|info|warn|error)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewInsertCommand(opts))
	cmd.AddCommand(NewFindCommand(opts))
	cmd.AddCommand(NewRemoveCommand(opts))
	cmd.AddCommand(NewDatabasesCommand(opts))

	return cmd
}

// newLogger builds a production logger at the configured level, or a
// development logger when debugging.
func (o *RootOptions) newLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(o.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if level == zapcore.DebugLevel {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// session is everything a command needs to work on the configured database.
type session struct {
	log         *zap.Logger
	store       store.Store
	db          *docdb.DB
	collections config.Collections
}

func (e *session) close() {
	if err := e.store.Close(); err != nil {
		e.log.Warn("close store", zap.Error(err))
	}
	_ = e.log.Sync()
}

func (e *session) collection(name string) *docdb.Collection {
	return e.db.Collection(name, e.collections.Lookup(name))
}

// open creates the logger, store and database described by the flags.
func (o *RootOptions) open(ctx context.Context) (*session, error) {
	log, err := o.newLogger()
	if err != nil {
		return nil, err
	}
	cols, err := config.LoadCollections(o.CollectionsFile)
	if err != nil {
		return nil, err
	}
	s, err := store.New(ctx, o.Backend, o.Location)
	if err != nil {
		return nil, fmt.Errorf("create store (backend=%s): %w", o.Backend, err)
	}
	return &session{
		log:         log,
		store:       s,
		db:          docdb.New(o.Database, s, docdb.WithLogger(log)),
		collections: cols,
	}, nil
}
