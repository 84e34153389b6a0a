package twitchinfra

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"songBot/internal/domain"
	"songBot/internal/infrastructure/logging"
	"songBot/internal/infrastructure/metrics"
)

const (
	deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"

	defaultPollInterval = 5 * time.Second
	slowDownIncrement   = 5 * time.Second
	maxNetworkFailures  = 3
	maxBodySize         = 1 << 20
)

// Endpoint is Twitch's OAuth endpoint set, device authorization included.
var Endpoint = oauth2.Endpoint{
	AuthURL:       "https://id.twitch.tv/oauth2/authorize",
	DeviceAuthURL: "https://id.twitch.tv/oauth2/device",
	TokenURL:      "https://id.twitch.tv/oauth2/token",
	AuthStyle:     oauth2.AuthStyleInParams,
}

type DeviceAuthConfig struct {
	ClientID   string
	Scopes     []string
	Endpoint   oauth2.Endpoint
	HTTPClient *http.Client
	Clock      clockwork.Clock
}

// StatusFunc receives human readable progress while polling.
type StatusFunc func(status string)

// DeviceAuthClient runs the OAuth device authorization grant (RFC 8628)
// against Twitch.
type DeviceAuthClient struct {
	clientID string
	scopes   []string
	endpoint oauth2.Endpoint
	httpCli  *http.Client
	clock    clockwork.Clock
	log      *logrus.Entry
}

func NewDeviceAuthClient(cfg DeviceAuthConfig) *DeviceAuthClient {
	endpoint := cfg.Endpoint
	if endpoint.DeviceAuthURL == "" {
		endpoint.DeviceAuthURL = Endpoint.DeviceAuthURL
	}
	if endpoint.TokenURL == "" {
		endpoint.TokenURL = Endpoint.TokenURL
	}
	httpCli := cfg.HTTPClient
	if httpCli == nil {
		httpCli = &http.Client{Timeout: 15 * time.Second}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &DeviceAuthClient{
		clientID: strings.TrimSpace(cfg.ClientID),
		scopes:   cfg.Scopes,
		endpoint: endpoint,
		httpCli:  httpCli,
		clock:    clock,
		log:      logging.GetLogger(logging.AuthModule),
	}
}

type deviceCodePayload struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int64  `json:"expires_in"`
	Interval        int64  `json:"interval"`
}

type tokenPayload struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresIn    int64    `json:"expires_in"`
	Scope        []string `json:"scope"`
	TokenType    string   `json:"token_type"`
}

// Twitch answers with {"status":400,"message":"authorization_pending"};
// plain OAuth servers use "error".
type oauthErrorPayload struct {
	Status           int    `json:"status"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (p oauthErrorPayload) code() string {
	if p.Error != "" {
		return p.Error
	}
	return p.Message
}

func (c *DeviceAuthClient) RequestDeviceCode(ctx context.Context) (domain.DeviceCodeState, error) {
	const op = "request device code"
	if c.clientID == "" {
		return domain.DeviceCodeState{}, domain.NewError(domain.ErrConfiguration, op, errors.New("TWITCH_CLIENT_ID is not set"))
	}

	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("scopes", strings.Join(c.scopes, " "))

	body, status, err := c.postForm(ctx, c.endpoint.DeviceAuthURL, form)
	if err != nil {
		return domain.DeviceCodeState{}, domain.NewError(domain.ErrNetwork, op, err)
	}

	if status != http.StatusOK {
		var payload oauthErrorPayload
		if json.Unmarshal(body, &payload) == nil && errors.Is(classifyOAuthError(payload.code()), domain.ErrInvalidClient) {
			return domain.DeviceCodeState{}, domain.NewError(domain.ErrInvalidClient, op, nil)
		}
		return domain.DeviceCodeState{}, domain.NewError(domain.ErrProtocol, op, errors.Errorf("status %d: %s", status, truncate(body)))
	}

	var payload deviceCodePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.DeviceCodeState{}, domain.NewError(domain.ErrProtocol, op, err)
	}
	if payload.DeviceCode == "" || payload.UserCode == "" || payload.VerificationURI == "" {
		return domain.DeviceCodeState{}, domain.NewError(domain.ErrProtocol, op, errors.New("incomplete device code response"))
	}

	state := domain.DeviceCodeState{
		DeviceCode:      payload.DeviceCode,
		UserCode:        payload.UserCode,
		VerificationURI: payload.VerificationURI,
		Interval:        time.Duration(payload.Interval) * time.Second,
	}
	if state.Interval <= 0 {
		state.Interval = defaultPollInterval
	}
	if payload.ExpiresIn > 0 {
		state.ExpiresAt = c.clock.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}

	c.log.WithFields(logrus.Fields{
		"user_code": state.UserCode,
		"interval":  state.Interval,
	}).Info("device code issued")

	return state, nil
}

// PollForToken polls until the user authorizes, a terminal error arrives or
// ctx is cancelled. onStatus never fires after cancellation.
func (c *DeviceAuthClient) PollForToken(ctx context.Context, deviceCode string, interval time.Duration, onStatus StatusFunc) (*oauth2.Token, error) {
	return c.poll(ctx, deviceCode, interval, time.Time{}, onStatus)
}

// PollDeviceCode is PollForToken plus the local expiry of state.
func (c *DeviceAuthClient) PollDeviceCode(ctx context.Context, state domain.DeviceCodeState, onStatus StatusFunc) (*oauth2.Token, error) {
	return c.poll(ctx, state.DeviceCode, state.Interval, state.ExpiresAt, onStatus)
}

func (c *DeviceAuthClient) poll(ctx context.Context, deviceCode string, interval time.Duration, expiresAt time.Time, onStatus StatusFunc) (*oauth2.Token, error) {
	const op = "poll token"
	if strings.TrimSpace(deviceCode) == "" {
		return nil, domain.NewError(domain.ErrProtocol, op, errors.New("empty device code"))
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}

	report := func(status string) {
		if ctx.Err() != nil || onStatus == nil {
			return
		}
		onStatus(status)
	}

	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.clock.After(interval):
		}

		if !expiresAt.IsZero() && !c.clock.Now().Before(expiresAt) {
			metrics.DeviceAuthPolls.WithLabelValues("expired").Inc()
			return nil, domain.NewError(domain.ErrExpiredToken, op, nil)
		}

		token, err := c.pollOnce(ctx, deviceCode)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		switch {
		case err == nil:
			metrics.DeviceAuthPolls.WithLabelValues("success").Inc()
			return token, nil
		case errors.Is(err, domain.ErrAuthorizationPending):
			metrics.DeviceAuthPolls.WithLabelValues("pending").Inc()
			failures = 0
			report("Waiting for you to authorize the bot on Twitch…")
		case errors.Is(err, domain.ErrSlowDown):
			metrics.DeviceAuthPolls.WithLabelValues("slow_down").Inc()
			failures = 0
			interval += slowDownIncrement
			report(fmt.Sprintf("Twitch asked us to slow down, polling every %s", interval))
		case errors.Is(err, domain.ErrNetwork):
			metrics.DeviceAuthPolls.WithLabelValues("network_error").Inc()
			failures++
			if failures >= maxNetworkFailures {
				return nil, err
			}
			c.log.WithError(err).Warn("token poll failed, retrying")
			report(fmt.Sprintf("Network problem reaching Twitch, retrying in %s", interval))
		default:
			metrics.DeviceAuthPolls.WithLabelValues("failed").Inc()
			return nil, err
		}
	}
}

func (c *DeviceAuthClient) pollOnce(ctx context.Context, deviceCode string) (*oauth2.Token, error) {
	const op = "poll token"

	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("scopes", strings.Join(c.scopes, " "))
	form.Set("device_code", deviceCode)
	form.Set("grant_type", deviceGrantType)

	body, status, err := c.postForm(ctx, c.endpoint.TokenURL, form)
	if err != nil {
		return nil, domain.NewError(domain.ErrNetwork, op, err)
	}

	switch {
	case status == http.StatusOK:
		return c.decodeToken(op, body)
	case status >= http.StatusInternalServerError:
		return nil, domain.NewError(domain.ErrNetwork, op, errors.Errorf("status %d", status))
	}

	var payload oauthErrorPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, domain.NewError(domain.ErrProtocol, op, errors.Errorf("status %d: %s", status, truncate(body)))
	}
	kind := classifyOAuthError(payload.code())
	var unknown *domain.UnknownAuthError
	if errors.As(kind, &unknown) {
		return nil, unknown
	}
	return nil, domain.NewError(kind, op, nil)
}

// Refresh exchanges a refresh token. Device-flow clients are public, so no
// secret is sent.
func (c *DeviceAuthClient) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	const op = "refresh token"
	if c.clientID == "" {
		return nil, domain.NewError(domain.ErrConfiguration, op, errors.New("TWITCH_CLIENT_ID is not set"))
	}

	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	body, status, err := c.postForm(ctx, c.endpoint.TokenURL, form)
	if err != nil {
		return nil, domain.NewError(domain.ErrNetwork, op, err)
	}
	switch {
	case status == http.StatusOK:
		return c.decodeToken(op, body)
	case status == http.StatusBadRequest || status == http.StatusUnauthorized:
		return nil, domain.NewError(domain.ErrAuth, op, errors.Errorf("status %d: %s", status, truncate(body)))
	default:
		return nil, domain.NewError(domain.ErrProtocol, op, errors.Errorf("status %d: %s", status, truncate(body)))
	}
}

func (c *DeviceAuthClient) decodeToken(op string, body []byte) (*oauth2.Token, error) {
	var payload tokenPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, domain.NewError(domain.ErrProtocol, op, err)
	}
	if payload.AccessToken == "" {
		return nil, domain.NewError(domain.ErrProtocol, op, errors.New("response without access_token"))
	}

	token := &oauth2.Token{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		TokenType:    payload.TokenType,
	}
	if payload.ExpiresIn > 0 {
		token.Expiry = c.clock.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}
	return token.WithExtra(map[string]any{"scope": payload.Scope}), nil
}

func (c *DeviceAuthClient) postForm(ctx context.Context, endpoint string, form url.Values) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpCli.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.log.WithError(cerr).Debug("close response body")
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func classifyOAuthError(code string) error {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "authorization_pending":
		return domain.ErrAuthorizationPending
	case "slow_down":
		return domain.ErrSlowDown
	case "expired_token", "invalid device code":
		return domain.ErrExpiredToken
	case "access_denied":
		return domain.ErrAccessDenied
	case "invalid_client", "invalid client":
		return domain.ErrInvalidClient
	case "":
		return domain.ErrProtocol
	default:
		return &domain.UnknownAuthError{Message: code}
	}
}

func truncate(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "…"
	}
	return s
}
