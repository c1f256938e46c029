package remarkable

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

const (
	devicePairPath   = "/token/json/2/device/new"
	userRefreshPath  = "/token/json/2/user/new"
	maxTokenBodySize = 64 * 1024

	// fallbackTokenTTL is used when the user token carries no readable exp
	// claim. The refresh endpoint issues tokens valid for roughly a day.
	fallbackTokenTTL = time.Hour
)

type pairRequest struct {
	Code       string `json:"code"`
	DeviceDesc string `json:"deviceDesc"`
	DeviceID   string `json:"deviceID"`
}

// pairDevice exchanges a one-time code for a long-lived device token.
func (g *Gateway) pairDevice(ctx context.Context, code, deviceID string) (string, error) {
	body, err := json.Marshal(pairRequest{
		Code:       code,
		DeviceDesc: g.endpoints.DeviceDesc,
		DeviceID:   deviceID,
	})
	if err != nil {
		return "", fmt.Errorf("remarkable: marshaling pair request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoints.AuthURL+devicePairPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("remarkable: creating pair request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	tok, err := g.readToken(req)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
			return "", fmt.Errorf("%w: %w", ErrInvalidPairingCode, err)
		}

		return "", err
	}

	return tok, nil
}

// refreshUserToken trades the device token for a short-lived user token.
func (g *Gateway) refreshUserToken(ctx context.Context, deviceToken string) (*oauth2.Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoints.AuthURL+userRefreshPath, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("remarkable: creating refresh request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+deviceToken)

	raw, err := g.readToken(req)
	if err != nil {
		return nil, fmt.Errorf("remarkable: refreshing user token: %w", err)
	}

	expiry := tokenExpiry(raw, g.now())

	g.logger.Debug("user token refreshed", slog.Time("expiry", expiry))

	return &oauth2.Token{AccessToken: raw, TokenType: "Bearer", Expiry: expiry}, nil
}

// readToken sends a token endpoint request and returns the plain-text token
// in the response body.
func (g *Gateway) readToken(req *http.Request) (string, error) {
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("remarkable: %s %s: %w", req.Method, req.URL.Path, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", responseError(resp)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenBodySize))
	if err != nil {
		return "", fmt.Errorf("remarkable: reading token response: %w", err)
	}

	tok := strings.TrimSpace(string(data))
	if tok == "" {
		return "", &APIError{StatusCode: resp.StatusCode, Message: "empty token", Err: ErrUnexpectedResponse}
	}

	return tok, nil
}

// tokenExpiry reads the exp claim of a user token without verifying its
// signature; the relay only needs to know when to ask for a fresh one.
func tokenExpiry(raw string, now time.Time) time.Time {
	claims := jwt.MapClaims{}

	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return now.Add(fallbackTokenTTL)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return now.Add(fallbackTokenTTL)
	}

	return exp.Time
}

// userTokenSource refreshes the user token from the device token on demand.
// Wrapped in oauth2.ReuseTokenSource so one Client refreshes at most once
// per token lifetime.
type userTokenSource struct {
	ctx         context.Context //nolint:containedctx // bound for the lifetime of one Client
	gateway     *Gateway
	deviceToken string
}

func (s *userTokenSource) Token() (*oauth2.Token, error) {
	return s.gateway.refreshUserToken(s.ctx, s.deviceToken)
}

// tokenBridge adapts oauth2.TokenSource to remarkable.TokenSource.
type tokenBridge struct {
	src oauth2.TokenSource
}

func (b *tokenBridge) Token() (string, error) {
	t, err := b.src.Token()
	if err != nil {
		return "", err
	}

	return t.AccessToken, nil
}
