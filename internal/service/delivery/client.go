package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/model"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/pkg/circuitbreaker"
)

// Outcome classifies one provider call. Every call yields exactly one
// outcome; business-level failures are values, never errors.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeConfigError      Outcome = "config_error"
	OutcomeInstanceInactive Outcome = "instance_inactive"
	OutcomeHTTPError        Outcome = "http_error"
	OutcomeTimeout          Outcome = "timeout"
	OutcomeNetworkError     Outcome = "network_error"
	OutcomeGeneralError     Outcome = "general_error"
)

// Result is the typed outcome of one outbound call.
type Result struct {
	Outcome           Outcome
	ProviderMessageID string
	RawResponse       string
	StatusCode        int
	ErrorMessage      string
}

func (r Result) Success() bool {
	return r.Outcome == OutcomeSuccess
}

// ErrorCode renders the outcome for the attempt's error_code column, with
// the HTTP status folded in for http errors.
func (r Result) ErrorCode() string {
	if r.Outcome == OutcomeHTTPError {
		return fmt.Sprintf("http_%d", r.StatusCode)
	}
	return string(r.Outcome)
}

// Client sends one message through a provider instance with a bounded
// timeout. Each instance gets its own circuit breaker so a dead endpoint in
// one region does not consume send cycles while the other keeps working.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	logger     zerolog.Logger

	mu       sync.Mutex
	breakers map[model.RegionCode]*circuitbreaker.CircuitBreaker
}

func NewClient(timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
		logger:     logger,
		breakers:   make(map[model.RegionCode]*circuitbreaker.CircuitBreaker),
	}
}

func (c *Client) breakerFor(code model.RegionCode) *circuitbreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	cb, ok := c.breakers[code]
	if !ok {
		cb = circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "wachap-" + string(code),
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		})
		c.breakers[code] = cb
	}
	return cb
}

type sendRequest struct {
	AccountID string `json:"account_id"`
	To        string `json:"to"`
	Message   string `json:"message"`
	Type      string `json:"type"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
}

// Send performs one outbound call to the instance's provider account and
// classifies the outcome. It never returns an error: transport failures are
// converted into typed results with the underlying message preserved.
func (c *Client) Send(ctx context.Context, region model.Region, phone, message string, kind model.MessageKind) Result {
	if !region.Configured() {
		return Result{
			Outcome:      OutcomeConfigError,
			ErrorMessage: fmt.Sprintf("instance %s has no credentials", region.Code),
		}
	}
	if !region.Active {
		return Result{
			Outcome:      OutcomeInstanceInactive,
			ErrorMessage: fmt.Sprintf("instance %s is inactive", region.Code),
		}
	}

	to := CanonicalPhone(phone, region.DefaultPrefix)

	body, err := json.Marshal(sendRequest{
		AccountID: region.AccountID,
		To:        to,
		Message:   message,
		Type:      string(kind),
	})
	if err != nil {
		return Result{Outcome: OutcomeGeneralError, ErrorMessage: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, region.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{Outcome: OutcomeGeneralError, ErrorMessage: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+region.APIToken)

	var resp *http.Response
	err = c.breakerFor(region.Code).Execute(func() error {
		var doErr error
		resp, doErr = c.httpClient.Do(req)
		return doErr
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return Result{
				Outcome:      OutcomeNetworkError,
				ErrorMessage: fmt.Sprintf("circuit open for instance %s", region.Code),
			}
		}
		return c.classifyTransportError(region, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn().
			Str("instance", string(region.Code)).
			Int("status", resp.StatusCode).
			Msg("provider rejected message")
		return Result{
			Outcome:      OutcomeHTTPError,
			StatusCode:   resp.StatusCode,
			RawResponse:  string(raw),
			ErrorMessage: fmt.Sprintf("provider returned status %d", resp.StatusCode),
		}
	}

	var sr sendResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return Result{
			Outcome:      OutcomeGeneralError,
			RawResponse:  string(raw),
			ErrorMessage: fmt.Sprintf("failed to decode provider response: %v", err),
		}
	}
	if sr.MessageID == "" {
		return Result{
			Outcome:      OutcomeGeneralError,
			RawResponse:  string(raw),
			ErrorMessage: "provider response missing message_id",
		}
	}

	return Result{
		Outcome:           OutcomeSuccess,
		ProviderMessageID: sr.MessageID,
		RawResponse:       string(raw),
	}
}

func (c *Client) classifyTransportError(region model.Region, err error) Result {
	outcome := OutcomeGeneralError

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		outcome = OutcomeTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		outcome = OutcomeTimeout
	default:
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			outcome = OutcomeNetworkError
		}
	}

	c.logger.Warn().
		Err(err).
		Str("instance", string(region.Code)).
		Str("outcome", string(outcome)).
		Msg("provider call failed")

	return Result{Outcome: outcome, ErrorMessage: err.Error()}
}
