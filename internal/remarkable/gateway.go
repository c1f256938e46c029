package remarkable

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// Default production endpoints.
const (
	DefaultAuthURL      = "https://webapp-production-dot-remarkable-production.appspot.com"
	DefaultDiscoveryURL = "https://service-manager-production-dot-remarkable-production.appspot.com"
	DefaultDeviceDesc   = "desktop-linux"

	discoveryPath  = "/service/json/1/document-storage"
	discoveryGroup = "auth0|5a68dc51cb30df3877a1d7c4"
)

// Endpoints configures where the gateway sends requests.
type Endpoints struct {
	AuthURL      string
	DiscoveryURL string
	DeviceDesc   string
}

func (e Endpoints) withDefaults() Endpoints {
	if e.AuthURL == "" {
		e.AuthURL = DefaultAuthURL
	}

	if e.DiscoveryURL == "" {
		e.DiscoveryURL = DefaultDiscoveryURL
	}

	if e.DeviceDesc == "" {
		e.DeviceDesc = DefaultDeviceDesc
	}

	e.AuthURL = strings.TrimRight(e.AuthURL, "/")
	e.DiscoveryURL = strings.TrimRight(e.DiscoveryURL, "/")

	return e
}

// Gateway is the entry point to the reMarkable cloud: it pairs new devices
// and opens authenticated storage clients for paired ones.
type Gateway struct {
	endpoints  Endpoints
	httpClient *http.Client
	userAgent  string
	logger     *slog.Logger
	now        func() time.Time
}

// NewGateway creates a Gateway. A nil httpClient uses http.DefaultClient.
func NewGateway(endpoints Endpoints, httpClient *http.Client, userAgent string, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Gateway{
		endpoints:  endpoints.withDefaults(),
		httpClient: httpClient,
		userAgent:  userAgent,
		logger:     logger,
		now:        time.Now,
	}
}

// Pair exchanges a pairing code from my.remarkable.com/connect for a durable
// device token. Rejected codes return ErrInvalidPairingCode.
func (g *Gateway) Pair(ctx context.Context, code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", ErrInvalidPairingCode
	}

	g.logger.Info("pairing new device")

	tok, err := g.pairDevice(ctx, code, uuid.NewString())
	if err != nil {
		return "", err
	}

	g.logger.Info("device paired")

	return tok, nil
}

// Open refreshes the user token for deviceToken, discovers the storage host
// and returns an authenticated Client. ctx bounds later silent refreshes too.
func (g *Gateway) Open(ctx context.Context, deviceToken string) (*Client, error) {
	if deviceToken == "" {
		return nil, ErrUnauthorized
	}

	src := oauth2.ReuseTokenSource(nil, &userTokenSource{
		ctx:         ctx,
		gateway:     g,
		deviceToken: deviceToken,
	})

	// Refresh eagerly so a revoked device token fails before any storage call.
	if _, err := src.Token(); err != nil {
		return nil, err
	}

	host, err := g.discoverStorage(ctx)
	if err != nil {
		return nil, err
	}

	return NewClient(host, g.httpClient, &tokenBridge{src: src}, g.logger, g.userAgent), nil
}

type discoveryResponse struct {
	Status string `json:"Status"` //nolint:tagliatelle // reMarkable API casing
	Host   string `json:"Host"`   //nolint:tagliatelle // reMarkable API casing
}

// discoverStorage asks the service manager which host serves document storage.
func (g *Gateway) discoverStorage(ctx context.Context) (string, error) {
	q := url.Values{}
	q.Set("environment", "production")
	q.Set("group", discoveryGroup)
	q.Set("apiVer", "2")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		g.endpoints.DiscoveryURL+discoveryPath+"?"+q.Encode(), http.NoBody)
	if err != nil {
		return "", fmt.Errorf("remarkable: creating discovery request: %w", err)
	}

	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDiscovery, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %w", ErrDiscovery, responseError(resp))
	}
	defer resp.Body.Close()

	var dr discoveryResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return "", fmt.Errorf("%w: decoding response: %w", ErrDiscovery, err)
	}

	if dr.Status != "OK" || dr.Host == "" {
		return "", fmt.Errorf("%w: status %q", ErrDiscovery, dr.Status)
	}

	if strings.Contains(dr.Host, "://") {
		return dr.Host, nil
	}

	return "https://" + dr.Host, nil
}
