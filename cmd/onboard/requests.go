package main

import (
	"fmt"

	onboard "github.com/goliatone/go-onboard"
	"github.com/spf13/cobra"
)

func (c *cli) requestAccessCmd() *cobra.Command {
	var msg onboard.SubmitAccessRequestMessage

	cmd := &cobra.Command{
		Use:   "request-access",
		Short: "Submit an access request",
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := c.client()
			if err != nil {
				return err
			}

			workflow := onboard.NewAccessRequestWorkflow(cl, cl, onboard.WithWorkflowLogger(c.logger.GetLogger("workflow")))
			record, err := workflow.Submit(cmd.Context(), msg.Email, msg.FullName, msg.CompanyName, msg.Message)
			if err != nil {
				return err
			}

			return c.printJSON(record)
		},
	}

	cmd.Flags().StringVar(&msg.Email, "email", "", "Contact email")
	cmd.Flags().StringVar(&msg.FullName, "name", "", "Full name")
	cmd.Flags().StringVar(&msg.CompanyName, "company", "", "Company name")
	cmd.Flags().StringVar(&msg.Message, "message", "", "Free form note for the reviewer")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func (c *cli) requestsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "requests",
		Short: "Review access requests (admin session required)",
	}

	cmd.AddCommand(c.requestsListCmd(), c.requestsApproveCmd(), c.requestsRejectCmd())
	return cmd
}

func (c *cli) requestsListCmd() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List access requests by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := c.client()
			if err != nil {
				return err
			}

			rows, err := cl.List(cmd.Context(), onboard.AccessRequestStatus(status))
			if err != nil {
				return err
			}

			return c.printJSON(rows)
		},
	}

	cmd.Flags().StringVar(&status, "status", string(onboard.AccessRequestPending), "pending, processed or rejected")
	return cmd
}

func (c *cli) requestsApproveCmd() *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "approve <request-id>",
		Short: "Provision an account for a pending request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := c.client()
			if err != nil {
				return err
			}

			workflow := onboard.NewAccessRequestWorkflow(cl, cl, onboard.WithWorkflowLogger(c.logger.GetLogger("workflow")))
			result, err := workflow.Approve(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}

			fmt.Fprintf(c.out, "provisioned user %s\n", result.UserID)
			for _, warning := range result.Warnings {
				fmt.Fprintf(c.out, "warning: %s\n", warning)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "Initial password for the new account")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}

func (c *cli) requestsRejectCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "reject <request-id>",
		Short: "Reject a pending request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := c.client()
			if err != nil {
				return err
			}

			record, err := cl.RejectWithReason(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}

			fmt.Fprintf(c.out, "rejected %s (%s)\n", record.ID, record.Email)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded in the activity log")
	return cmd
}
