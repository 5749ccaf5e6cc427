package main

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-onboard/client"
	"github.com/goliatone/go-onboard/config"
	"github.com/goliatone/go-onboard/internal/app"
	"github.com/spf13/cobra"
)

// cli holds state shared by every command. It is filled in by the root
// PersistentPreRunE.
type cli struct {
	out      io.Writer
	envFiles []string
	url      string

	cfg    *config.Config
	logger *glog.BaseLogger
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}

	root := &cobra.Command{
		Use:           "onboard",
		Short:         "Access requests, approval and account provisioning",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load()
		},
	}
	root.SetOut(out)

	root.PersistentFlags().StringSliceVar(&c.envFiles, "env-file", nil, "Load variables from these .env files (default .env)")
	root.PersistentFlags().StringVar(&c.url, "url", "", "Server URL for client commands (overrides ONBOARD_CLIENT_URL)")

	root.AddCommand(
		c.serveCmd(),
		c.migrateCmd(),
		c.loginCmd(),
		c.logoutCmd(),
		c.whoamiCmd(),
		c.requestAccessCmd(),
		c.requestsCmd(),
		c.usersCmd(),
	)

	return root
}

func (c *cli) load() error {
	cfg, err := config.Load(c.envFiles...)
	if err != nil {
		return err
	}
	if c.url != "" {
		cfg.Client.URL = c.url
	}
	c.cfg = cfg
	c.logger = app.NewLogger(cfg)
	return nil
}

func (c *cli) client() (*client.Client, error) {
	path, err := c.sessionFile()
	if err != nil {
		return nil, err
	}

	return client.New(c.cfg.Client.URL,
		client.WithAPIKey(c.cfg.PublicAPIKey),
		client.WithAdminSecret(c.cfg.Admin.Secret),
		client.WithStorage(client.NewFileStorage(path)),
		client.WithTimeout(c.cfg.Identity.Timeout),
		client.WithLogger(c.logger.GetLogger("client")),
	)
}

func (c *cli) sessionFile() (string, error) {
	if c.cfg.Client.SessionFile != "" {
		return c.cfg.Client.SessionFile, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resolve config directory")
	}
	return filepath.Join(dir, "onboard", "session.json"), nil
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
