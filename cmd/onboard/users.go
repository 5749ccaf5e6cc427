package main

import (
	"context"
	"fmt"

	onboard "github.com/goliatone/go-onboard"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
)

func (c *cli) usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage accounts",
	}

	cmd.AddCommand(c.usersCreateCmd(), c.usersPromoteCmd())
	return cmd
}

// usersCreateCmd calls the gated endpoint without a request id.
func (c *cli) usersCreateCmd() *cobra.Command {
	var msg onboard.ProvisionAccountMessage

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an approved account directly (needs ONBOARD_ADMIN_SECRET)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := c.client()
			if err != nil {
				return err
			}

			result, err := cl.Provision(cmd.Context(), msg)
			if err != nil {
				return err
			}

			return c.printJSON(result)
		},
	}

	cmd.Flags().StringVar(&msg.Email, "email", "", "Account email")
	cmd.Flags().StringVar(&msg.Password, "password", "", "Initial password")
	cmd.Flags().StringVar(&msg.FullName, "name", "", "Full name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}

// usersPromoteCmd changes a profile role straight in the database. It is the
// only way to create the first admin.
func (c *cli) usersPromoteCmd() *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "promote <user-id>",
		Short: "Set the role of a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withDB(cmd.Context(), func(ctx context.Context, db *bun.DB) error {
				profile, err := onboard.NewRepositoryManager(db).Profiles().SetRole(ctx, args[0], onboard.UserRole(role))
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "%s is now %s\n", profile.ID, profile.Role)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&role, "role", string(onboard.RoleAdmin), "member, admin or owner")
	return cmd
}
