// Package notifier delivers workspace notifications through the platform's
// notification service.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
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
	timeout, err := env.Duration("NOTIFIER_TIMEOUT", 5*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		BaseURL:      env.String("NOTIFIER_BASE_URL", ""),
		Timeout:      timeout,
		TokenURL:     env.String("NOTIFIER_TOKEN_URL", ""),
		ClientID:     env.String("NOTIFIER_CLIENT_ID", ""),
		ClientSecret: env.String("NOTIFIER_CLIENT_SECRET", ""),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("NOTIFIER_BASE_URL is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("NOTIFIER_BASE_URL: %w", err)
	}
	if c.Timeout <= 0 {
		return errors.New("NOTIFIER_TIMEOUT must be positive")
	}
	if strings.TrimSpace(c.TokenURL) != "" && strings.TrimSpace(c.ClientID) == "" {
		return errors.New("NOTIFIER_CLIENT_ID is required when NOTIFIER_TOKEN_URL is set")
	}
	return nil
}

type Client struct {
	baseURL string
	http    *http.Client
}

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

type message struct {
	Target string `json:"target"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

func (c *Client) Send(ctx context.Context, target string, title string, body string) error {
	if c == nil {
		return errors.New("notifier client is nil")
	}
	target = strings.TrimSpace(target)
	if target == "" {
		return errors.New("target is required")
	}
	if strings.TrimSpace(body) == "" {
		return errors.New("body is required")
	}

	payload, err := json.Marshal(message{Target: target, Title: title, Body: body})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/notifications", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("send notification: unexpected status %d", resp.StatusCode)
	}
	return nil
}
