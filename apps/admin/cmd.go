package main

import (
	"database/sql"
	"errors"
	"io"

	"github.com/spf13/cobra"

	"github.com/trezcool/mitihani/core"
	"github.com/trezcool/mitihani/core/packet"
	"github.com/trezcool/mitihani/core/reference"
)

var errHelp = errors.New("help provided")

type commandLine struct {
	conf   *core.Config
	db     *sql.DB
	pktSvc packet.Service
	dir    reference.Directory
	out    io.Writer
}

// run executes the command described by args. args[0] is the program name.
func (cli *commandLine) run(args []string) error {
	root := cli.rootCommand()
	if len(args) > 1 {
		root.SetArgs(args[1:])
	} else {
		root.SetArgs([]string{})
	}
	return root.Execute()
}

func (cli *commandLine) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "admin",
		Short:         "Mitihani administration tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = cmd.Help()
			return errHelp
		},
	}
	root.SetOut(cli.out)
	root.SetErr(cli.out)

	root.AddCommand(
		cli.migrateCommand(),
		cli.tokenCommand(),
		cli.statsCommand(),
		cli.historyCommand(),
	)
	return root
}
