package cisco

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/xerrors"

	"github.com/hextrackr/advisory-sync/types"
)

const tokenURL = "https://id.cisco.com/oauth2/default/v1/token"

// TokenManager runs the OAuth2 client-credentials grant. A token is acquired
// once per run and never cached across runs.
type TokenManager struct {
	tokenURL   string
	httpClient *http.Client
}

func NewTokenManager(url string, httpClient *http.Client) *TokenManager {
	if url == "" {
		url = tokenURL
	}
	return &TokenManager{tokenURL: url, httpClient: httpClient}
}

// Acquire exchanges client credentials for a bearer token. Every failure
// matches types.ErrAuthentication.
func (m *TokenManager) Acquire(ctx context.Context, clientID, clientSecret string) (string, error) {
	if clientID == "" || clientSecret == "" {
		return "", xerrors.Errorf("client id and secret are required: %w", types.ErrAuthentication)
	}

	cfg := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     m.tokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	if m.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	}

	tok, err := cfg.Token(ctx)
	if err != nil {
		return "", xerrors.Errorf("token request failed (%s): %w", err, types.ErrAuthentication)
	}
	if tok.AccessToken == "" {
		return "", xerrors.Errorf("empty access token: %w", types.ErrAuthentication)
	}
	return tok.AccessToken, nil
}
