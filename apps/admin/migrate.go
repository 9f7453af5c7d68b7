package main

import (
	"github.com/spf13/cobra"

	"github.com/trezcool/mitihani/storage/database"
)

var migrateFunc = database.Migrate // mockable

func (cli *commandLine) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate COMMAND [ARGS]",
		Short: "Run a goose migration command (up, up-to, down, status, ...)",
		// goose options are passed through as is
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				_ = cmd.Help()
				return errHelp
			}
			return migrateFunc(cli.db, args[0], args[1:]...)
		},
	}
}
