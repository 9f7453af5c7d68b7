package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	echoapi "github.com/trezcool/mitihani/apps/api/echo"
	"github.com/trezcool/mitihani/core/reference"
)

func (cli *commandLine) tokenCommand() *cobra.Command {
	var (
		staffID int64
		roles   []string
		name    string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed API token for a staff member",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, role := range roles {
				if role != echoapi.RoleOperator && role != echoapi.RoleAdmin {
					return fmt.Errorf("unknown role %q", role)
				}
			}

			staff, err := cli.dir.Lookup(context.Background(), reference.KindStaff, staffID)
			if err != nil {
				if errors.Cause(err) == reference.ErrNotFound {
					return fmt.Errorf("staff %d not found", staffID)
				}
				return errors.Wrap(err, "looking up staff")
			}
			if name == "" {
				name = staff.Name
			}

			token, err := echoapi.GenerateToken(cli.conf, echoapi.GetStaffClaims(cli.conf, staffID, name, roles...))
			if err != nil {
				return errors.Wrap(err, "generating token")
			}
			_, err = fmt.Fprintln(cli.out, token)
			return err
		},
	}

	cmd.Flags().Int64Var(&staffID, "staff", 0, "The staff member's id")
	cmd.Flags().StringSliceVar(&roles, "role", []string{echoapi.RoleOperator}, "Roles granted by the token: operator, admin")
	cmd.Flags().StringVar(&name, "name", "", "Display name (defaults to the directory name)")
	_ = cmd.MarkFlagRequired("staff")
	return cmd
}
