package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/pardot/rp"
)

func newMigrateCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply outstanding database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(f.logLevel, f.logFormat)
			if err != nil {
				return err
			}
			cfg, err := rp.LoadConfig(f.configPath)
			if err != nil {
				return errors.Wrap(err, "loading config")
			}

			// every backend brings its schema up to date when opened
			_, closeFn, err := openStorage(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()

			logger.Info("storage is up to date")
			return nil
		},
	}
}
