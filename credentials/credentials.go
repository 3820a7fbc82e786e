// Package credentials resolves vendor API credentials per user.
package credentials

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/xerrors"

	"github.com/hextrackr/advisory-sync/types"
	"github.com/hextrackr/advisory-sync/utils"
)

// PreferenceKey holds "clientId:clientSecret" in user_preferences.
const PreferenceKey = "cisco_api_key"

type Store interface {
	Preference(ctx context.Context, userID, key string) (string, error)
}

type Provider struct {
	store    Store
	fallback types.Credentials
	logger   *slog.Logger
}

type options struct {
	fallback types.Credentials
	logger   *slog.Logger
}

type option func(*options)

// WithFallback is used when the user has no stored key.
func WithFallback(creds types.Credentials) option {
	return func(opts *options) { opts.fallback = creds }
}

func WithLogger(logger *slog.Logger) option {
	return func(opts *options) { opts.logger = logger }
}

func NewProvider(store Store, opts ...option) *Provider {
	o := &options{logger: utils.NopLogger()}
	for _, opt := range opts {
		opt(o)
	}
	return &Provider{store: store, fallback: o.fallback, logger: o.logger}
}

func (p *Provider) Credentials(ctx context.Context, userID string) (types.Credentials, error) {
	value, err := p.store.Preference(ctx, userID, PreferenceKey)
	switch {
	case xerrors.Is(err, types.ErrNotFound):
		if p.fallback.ClientID != "" && p.fallback.ClientSecret != "" {
			p.logger.Debug("Using configured Cisco credentials", slog.String("user", userID))
			return p.fallback, nil
		}
		return types.Credentials{}, xerrors.Errorf("no Cisco API credentials for user %q: %w", userID, types.ErrAuthentication)
	case err != nil:
		return types.Credentials{}, xerrors.Errorf("failed to load credentials (%s): %w", err, types.ErrAuthentication)
	}
	return Parse(value)
}

// Parse splits a "clientId:clientSecret" value.
func Parse(value string) (types.Credentials, error) {
	id, secret, ok := strings.Cut(strings.TrimSpace(value), ":")
	if !ok || id == "" || secret == "" {
		return types.Credentials{}, xerrors.Errorf("malformed Cisco API key: %w", types.ErrAuthentication)
	}
	return types.Credentials{ClientID: id, ClientSecret: secret}, nil
}
