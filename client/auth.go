package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
)

// AuthScheme acquires a bearer token from the platform.
type AuthScheme interface {
	Authenticate(ctx context.Context, httpClient *http.Client, baseURL string) (string, error)
}

// APIKeyAuth authenticates with a platform API key.
type APIKeyAuth struct {
	APIKey string
}

// Authenticate exchanges the API key for a bearer token.
func (a APIKeyAuth) Authenticate(ctx context.Context, httpClient *http.Client, baseURL string) (string, error) {
	return fetchToken(ctx, httpClient, baseURL+"bim/apikey/authenticate", map[string]string{
		"apikey": a.APIKey,
	})
}

// UsernamePasswordAuth authenticates against an identity manager with a
// username and password.
type UsernamePasswordAuth struct {
	IAMID    string
	Username string
	Password string
}

// Authenticate exchanges the credentials for a bearer token.
func (a UsernamePasswordAuth) Authenticate(ctx context.Context, httpClient *http.Client, baseURL string) (string, error) {
	return fetchToken(ctx, httpClient, baseURL+"bim/iam/"+a.IAMID+"/user/authenticate", map[string]string{
		"username": a.Username,
		"password": a.Password,
	})
}

// OAuth2Auth authenticates with an OAuth2 refresh-token grant against the
// platform's token endpoint.
type OAuth2Auth struct {
	RefreshToken string
	ClientID     string
	ClientSecret string
}

// Authenticate redeems the refresh token for an access token.
func (a OAuth2Auth) Authenticate(ctx context.Context, httpClient *http.Client, baseURL string) (string, error) {
	cfg := oauth2.Config{
		ClientID:     a.ClientID,
		ClientSecret: a.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  baseURL + "bim/oauth/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	token, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: a.RefreshToken}).Token()
	if err != nil {
		return "", fmt.Errorf("oauth2 token exchange failed: %w", err)
	}
	return token.AccessToken, nil
}

// fetchToken posts credentials and extracts the token from the response.
func fetchToken(ctx context.Context, httpClient *http.Client, endpoint string, credentials map[string]string) (string, error) {
	payload, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("failed to fetch token: status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tokenResp.Token == "" {
		return "", fmt.Errorf("no token in authentication response")
	}
	return tokenResp.Token, nil
}
