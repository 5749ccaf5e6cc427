package main

import (
	"fmt"

	goerrors "github.com/goliatone/go-errors"
	"github.com/spf13/cobra"
)

func (c *cli) loginCmd() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := c.client()
			if err != nil {
				return err
			}

			session, err := cl.SignIn(cmd.Context(), email, password)
			if err != nil {
				return err
			}

			fmt.Fprintf(c.out, "signed in as %s (%s)\n", session.User.Email, session.User.Role)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke and forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := c.client()
			if err != nil {
				return err
			}
			if err := cl.SignOut(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(c.out, "signed out")
			return nil
		},
	}
}

func (c *cli) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed in user and profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := c.client()
			if err != nil {
				return err
			}

			session, err := cl.GetSession(cmd.Context())
			if err != nil {
				return err
			}
			if session == nil {
				return goerrors.New("not signed in, run onboard login", goerrors.CategoryAuth)
			}

			profile, err := cl.GetProfile(cmd.Context(), session.User.ID)
			if err != nil {
				return err
			}

			return c.printJSON(map[string]any{
				"user":    session.User,
				"profile": profile,
			})
		},
	}
}
