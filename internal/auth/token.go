package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/TheMichaelB/graphsync/internal/config"
)

// TokenSource supplies the bearer token used to construct the connection
// URL. Token acquisition (login, refresh) happens outside this client;
// these sources only read the result.
type TokenSource interface {
	Token() (string, error)
}

// ErrNoToken means no token could be resolved from the configured sources.
var ErrNoToken = errors.New("no auth token configured")

// Static returns a fixed token.
type Static string

func (s Static) Token() (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// File reads the token from a JSON file of the form {"token": "..."}.
type File string

func (f File) Token() (string, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("parse token file: %w", err)
	}
	if payload.Token == "" {
		return "", ErrNoToken
	}
	return payload.Token, nil
}

// chain tries sources in order until one yields a token.
type chain []TokenSource

func (c chain) Token() (string, error) {
	for _, src := range c {
		token, err := src.Token()
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, ErrNoToken) {
			return "", err
		}
	}
	return "", ErrNoToken
}

// FromConfig builds the token source chain: inline config token, token
// file, GRAPHSYNC_AUTH_TOKEN environment variable.
func FromConfig(cfg *config.AuthConfig) TokenSource {
	var sources chain
	if cfg.Token != "" {
		sources = append(sources, Static(cfg.Token))
	}
	if cfg.TokenFile != "" {
		sources = append(sources, File(cfg.TokenFile))
	}
	sources = append(sources, Static(os.Getenv("GRAPHSYNC_AUTH_TOKEN")))
	return sources
}
