// Package crm provides the Salesforce REST client used by the activation
// engine: SOQL queries with pagination, composite batch fan-out over a
// bounded worker pool, rate limiting and bounded retries.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"activation_backend/internal/activations/ports"
	"activation_backend/platform/apperr"
	"activation_backend/platform/config"
	"activation_backend/platform/logger"

	"github.com/sethvargo/go-retry"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	defaultAPIVersion     = "v60.0"
	defaultTimeout        = 60 * time.Second
	defaultRetryBaseDelay = 250 * time.Millisecond
	maxRetryDelay         = 10 * time.Second
	maxErrorBody          = 4 << 10
)

// Options configures a Client.
type Options struct {
	InstanceURL string
	APIVersion  string
	// TokenSource authenticates requests. A refreshing source turns an
	// expired access token into a new one transparently.
	TokenSource          oauth2.TokenSource
	RequestsPerSecond    float64
	MaxRetries           int
	RetryBaseDelay       time.Duration
	MaxConcurrentBatches int
	BatchDelay           time.Duration
	// HTTPClient is the base transport client; the token source wraps it.
	HTTPClient *http.Client
}

// Client is a Salesforce REST client. It is safe for concurrent use.
type Client struct {
	httpClient     *http.Client
	instanceURL    string
	apiVersion     string
	limiter        *rate.Limiter
	maxRetries     int
	retryBaseDelay time.Duration
	batchWorkers   int
	batchDelay     time.Duration
	log            *logger.Logger
}

// Compile-time check that Client implements the CRM port.
var _ ports.CRM = (*Client)(nil)

// New creates a client from environment configuration. A refresh token with
// client credentials enables OAuth2 token refresh; otherwise the static access
// token is used as is.
func New(cfg config.CRMConfig, log *logger.Logger) (*Client, error) {
	if cfg.GetSalesforceInstanceURL() == "" {
		return nil, fmt.Errorf("salesforce instance URL is not configured")
	}

	var ts oauth2.TokenSource
	switch {
	case cfg.GetSalesforceRefreshToken() != "" && cfg.GetSalesforceClientID() != "":
		oc := &oauth2.Config{
			ClientID:     cfg.GetSalesforceClientID(),
			ClientSecret: cfg.GetSalesforceClientSecret(),
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.GetSalesforceTokenURL(),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		}
		seed := &oauth2.Token{AccessToken: cfg.GetSalesforceAccessToken(), RefreshToken: cfg.GetSalesforceRefreshToken()}
		ts = oc.TokenSource(context.Background(), seed)
	case cfg.GetSalesforceAccessToken() != "":
		ts = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.GetSalesforceAccessToken(), TokenType: "Bearer"})
	default:
		return nil, fmt.Errorf("salesforce credentials are not configured")
	}

	return NewWithOptions(Options{
		InstanceURL:          cfg.GetSalesforceInstanceURL(),
		APIVersion:           cfg.GetSalesforceAPIVersion(),
		TokenSource:          ts,
		RequestsPerSecond:    cfg.GetCRMRequestsPerSecond(),
		MaxRetries:           cfg.GetCRMMaxRetries(),
		MaxConcurrentBatches: cfg.GetCRMMaxConcurrentBatches(),
		BatchDelay:           cfg.GetCRMBatchDelay(),
	}, log), nil
}

// NewWithOptions creates a client from explicit options.
func NewWithOptions(opts Options, log *logger.Logger) *Client {
	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: defaultTimeout}
	}
	httpClient := base
	if opts.TokenSource != nil {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		httpClient = oauth2.NewClient(ctx, oauth2.ReuseTokenSource(nil, opts.TokenSource))
		httpClient.Timeout = base.Timeout
	}

	limit := rate.Inf
	burst := 1
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
		burst = max(1, int(opts.RequestsPerSecond))
	}
	apiVersion := opts.APIVersion
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	if !strings.HasPrefix(apiVersion, "v") {
		apiVersion = "v" + apiVersion
	}
	retryBase := opts.RetryBaseDelay
	if retryBase <= 0 {
		retryBase = defaultRetryBaseDelay
	}
	workers := opts.MaxConcurrentBatches
	if workers <= 0 {
		workers = 3
	}

	return &Client{
		httpClient:     httpClient,
		instanceURL:    strings.TrimRight(opts.InstanceURL, "/"),
		apiVersion:     apiVersion,
		limiter:        rate.NewLimiter(limit, burst),
		maxRetries:     max(0, opts.MaxRetries),
		retryBaseDelay: retryBase,
		batchWorkers:   workers,
		batchDelay:     opts.BatchDelay,
		log:            log,
	}
}

// dataPath returns the versioned REST path for a resource.
func (c *Client) dataPath(resource string) string {
	return "/services/data/" + c.apiVersion + "/" + strings.TrimLeft(resource, "/")
}

// do sends one request, retrying transient failures with capped exponential
// backoff. A 401 or a rejected refresh token fails immediately as a session
// error; transient failures that outlast the retries also surface as one.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	backoff := retry.WithMaxRetries(uint64(c.maxRetries), retry.WithCappedDuration(maxRetryDelay, retry.NewExponential(c.retryBaseDelay)))
	attempts := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		err := c.attempt(ctx, method, path, payload, out)
		if apperr.Is(err, apperr.KindTransient) {
			c.log.Warn("salesforce request failed, retrying", "method", method, "path", path, "attempt", attempts, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if apperr.Is(err, apperr.KindTransient) {
		return apperr.Session(fmt.Sprintf("salesforce unavailable after %d attempts", attempts), err).WithOp("crm.do")
	}
	return err
}

func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.instanceURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperr.Wrap(apperr.KindSchema, "decode salesforce response", err).WithOp("crm.do")
		}
		return nil
	}

	msg := readErrorBody(resp.Body)
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return apperr.Session("salesforce session expired or invalid", errors.New(msg)).WithOp("crm.do")
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return apperr.Transient(fmt.Sprintf("salesforce returned %d", resp.StatusCode), errors.New(msg)).WithOp("crm.do")
	case resp.StatusCode == http.StatusBadRequest:
		return apperr.Wrap(apperr.KindSchema, "salesforce rejected the request", errors.New(msg)).WithOp("crm.do")
	case resp.StatusCode == http.StatusNotFound:
		return apperr.NotFound("salesforce resource not found: " + path)
	default:
		return fmt.Errorf("salesforce returned %d: %s", resp.StatusCode, msg)
	}
}

func classifyTransportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) {
		if retrieve.Response != nil && (retrieve.Response.StatusCode == http.StatusTooManyRequests || retrieve.Response.StatusCode >= 500) {
			return apperr.Transient("salesforce token endpoint unavailable", err).WithOp("crm.do")
		}
		return apperr.Session("salesforce token refresh rejected", err).WithOp("crm.do")
	}
	return apperr.Transient("salesforce request failed", err).WithOp("crm.do")
}

func readErrorBody(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(errorMessage(raw))
}
