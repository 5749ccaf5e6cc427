package kratos

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	kratosclient "github.com/ory/kratos-client-go"
)

// DefaultSchemaID is the identity schema new identities are created with.
const DefaultSchemaID = "default"

// Config holds the Kratos endpoints.
type Config struct {
	// PublicURL serves self service flows such as login.
	PublicURL string
	// AdminURL serves identity management. Keep it off the public network.
	AdminURL string
	// SchemaID selects the identity schema. Default: DefaultSchemaID.
	SchemaID string
	// Timeout bounds each call. Default: 10 seconds.
	Timeout time.Duration
}

func (c Config) schemaID() string {
	if strings.TrimSpace(c.SchemaID) == "" {
		return DefaultSchemaID
	}
	return c.SchemaID
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 10 * time.Second
	}
	return c.Timeout
}

// Validate checks both endpoints are absolute URLs.
func (c Config) Validate() error {
	if !isValidURL(c.PublicURL) {
		return fmt.Errorf("kratos: invalid public URL: %q", c.PublicURL)
	}
	if !isValidURL(c.AdminURL) {
		return fmt.Errorf("kratos: invalid admin URL: %q", c.AdminURL)
	}
	return nil
}

func newAPIClient(serverURL string, timeout time.Duration) *kratosclient.APIClient {
	cfg := kratosclient.NewConfiguration()
	cfg.Servers = kratosclient.ServerConfigurations{
		{URL: strings.TrimSuffix(serverURL, "/")},
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	cfg.DefaultHeader = map[string]string{"Accept": "application/json"}
	return kratosclient.NewAPIClient(cfg)
}

func isValidURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}
