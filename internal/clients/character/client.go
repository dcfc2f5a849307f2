// Package character is the read-only bridge to the campaign's character service
package character

//go:generate mockgen -destination=mock/mock_client.go -package=charactermock github.com/KirkDiggler/rpg-encounters/internal/clients/character Client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/KirkDiggler/rpg-encounters/internal/errors"
)

const (
	defaultTimeout = 5 * time.Second
	maxBodyBytes   = 1 << 20
	upstreamName   = "character-service"
)

// Client fetches characters from the external character service
type Client interface {
	// FetchCharacter loads a character on behalf of the caller's credential
	// Returns errors.NotFound when the service has no such character
	// Returns errors.Unavailable for network failures, 5xx responses, and a
	// refused credential (401/403, not retried)
	// Returns errors.Internal for malformed payloads
	FetchCharacter(ctx context.Context, characterID, credential string) (*Character, error)
}

// Config contains configuration options for the character client
type Config struct {
	// BaseURL of the character service, e.g. http://characters:8080
	BaseURL string
	// Timeout per attempt (optional, defaults to 5 seconds)
	Timeout time.Duration
	// HTTPClient overrides the transport (optional)
	HTTPClient *http.Client
}

// Validate validates the config
func (cfg *Config) Validate() error {
	if cfg == nil {
		return errors.InvalidArgument("config cannot be nil")
	}

	vb := errors.NewValidationBuilder()
	errors.ValidateRequired("base_url", cfg.BaseURL, vb)
	if cfg.BaseURL != "" {
		if u, err := url.Parse(cfg.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			vb.Field("base_url", "must be an absolute URL")
		}
	}
	if cfg.Timeout < 0 {
		vb.Field("timeout", "must not be negative")
	}
	return vb.Build()
}

type client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a character service client
func New(cfg *Config) (Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
	}, nil
}

func (c *client) FetchCharacter(ctx context.Context, characterID, credential string) (*Character, error) {
	if characterID == "" {
		return nil, errors.InvalidArgument("character ID cannot be empty")
	}

	// one retry for transient failures, nothing else is retried
	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		ch, err := c.fetch(ctx, characterID, credential)
		if err == nil {
			return ch, nil
		}
		if !errors.IsUnavailable(err) || credentialRefused(err) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		slog.WarnContext(ctx, "character fetch failed",
			"character_id", characterID,
			"attempt", attempt,
			"error", err)
	}
	return nil, lastErr
}

// credentialRefused reports an upstream 401 or 403; retrying will not change it
func credentialRefused(err error) bool {
	status, _ := errors.GetMeta(err)["upstream_status"].(int)
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

func (c *client) fetch(ctx context.Context, characterID, credential string) (*Character, error) {
	endpoint := fmt.Sprintf("%s/characters/%s", c.baseURL, url.PathEscape(characterID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build character request")
	}
	req.Header.Set("Accept", "application/json")
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "character service unreachable")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "failed to read character response")
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.NotFoundf("character %s not found", characterID)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errors.Unavailable("character service refused the credential").
			WithMeta("character_id", characterID).
			WithMeta("upstream", upstreamName).
			WithMeta("upstream_status", resp.StatusCode)
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, errors.Unavailablef("character service returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, errors.Newf(errors.CodeInternal, "unexpected character service status %d", resp.StatusCode)
	}

	var ch Character
	if err := json.Unmarshal(body, &ch); err != nil {
		return nil, errors.Wrapf(err, "malformed character payload for %s", characterID)
	}
	if ch.ID == "" {
		ch.ID = characterID
	}
	return &ch, nil
}
