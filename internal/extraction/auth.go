package extraction

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// AuthConfig enables OAuth2 client-credentials on outbound calls.
type AuthConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

func (a *AuthConfig) enabled() bool {
	return a != nil && strings.TrimSpace(a.TokenURL) != "" && a.ClientID != ""
}

// authorizedClient wraps base so every request carries a bearer token from
// the token endpoint. Tokens are cached and refreshed by oauth2.
func authorizedClient(base *http.Client, auth *AuthConfig) *http.Client {
	if !auth.enabled() {
		return base
	}
	cfg := clientcredentials.Config{
		ClientID:     auth.ClientID,
		ClientSecret: auth.ClientSecret,
		TokenURL:     auth.TokenURL,
		Scopes:       auth.Scopes,
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	return cfg.Client(ctx)
}
