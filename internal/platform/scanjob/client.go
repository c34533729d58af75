// Package scanjob talks to the scan orchestrator that runs vaccine and
// vulnerability jobs for uploaded model files.
package scanjob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/animus-labs/modelimport/internal/platform/env"
	"golang.org/x/oauth2/clientcredentials"
)

type Config struct {
	BaseURL string
	Timeout time.Duration

	TokenURL     string
	ClientID     string
	ClientSecret string
}

func ConfigFromEnv() (Config, error) {
	timeout, err := env.Duration("SCANJOB_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		BaseURL:      env.String("SCANJOB_BASE_URL", ""),
		Timeout:      timeout,
		TokenURL:     env.String("SCANJOB_TOKEN_URL", ""),
		ClientID:     env.String("SCANJOB_CLIENT_ID", ""),
		ClientSecret: env.String("SCANJOB_CLIENT_SECRET", ""),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("SCANJOB_BASE_URL is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("SCANJOB_BASE_URL: %w", err)
	}
	if c.Timeout <= 0 {
		return errors.New("SCANJOB_TIMEOUT must be positive")
	}
	if strings.TrimSpace(c.TokenURL) != "" && strings.TrimSpace(c.ClientID) == "" {
		return errors.New("SCANJOB_CLIENT_ID is required when SCANJOB_TOKEN_URL is set")
	}
	return nil
}

type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds the orchestrator client. When a token URL is configured
// the client authenticates with OAuth2 client credentials; otherwise requests
// go out bare, which fits in-cluster deployments behind the gateway.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	if strings.TrimSpace(cfg.TokenURL) != "" {
		cc := clientcredentials.Config{
			TokenURL:     cfg.TokenURL,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
		}
		httpClient = cc.Client(context.Background())
		httpClient.Timeout = cfg.Timeout
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
	}, nil
}

// Cancel asks the orchestrator to stop any scan jobs still running for the
// artifact revision. A 404 from the orchestrator is treated as success: the
// job already finished or never existed.
func (c *Client) Cancel(ctx context.Context, artifactID string, revisionID string) error {
	if c == nil {
		return errors.New("scanjob client is nil")
	}
	artifactID = strings.TrimSpace(artifactID)
	revisionID = strings.TrimSpace(revisionID)
	if artifactID == "" || revisionID == "" {
		return errors.New("artifact id and revision id are required")
	}

	endpoint := fmt.Sprintf("%s/scan-jobs/%s/revisions/%s/cancel",
		c.baseURL, url.PathEscape(artifactID), url.PathEscape(revisionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build cancel request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cancel scan job: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return nil
	default:
		return fmt.Errorf("cancel scan job: unexpected status %d", resp.StatusCode)
	}
}
