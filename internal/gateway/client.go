package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/mirroros/public-api/internal/dto"
)

var (
	// ErrNotConfigured means the private service URL or secret is missing.
	ErrNotConfigured = errors.New("prediction service is not configured")
	// ErrTimeout means the upstream did not answer within the deadline.
	ErrTimeout = errors.New("prediction service timed out")
	// ErrUnavailable means the upstream could not be reached at all.
	ErrUnavailable = errors.New("prediction service is unreachable")
	// ErrBusy means the upstream shed the request under load.
	ErrBusy = errors.New("prediction service is busy")
)

// UpstreamError carries a non-200 response from the private service.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("prediction service returned %d: %s", e.Status, e.Message)
}

// PredictEnvelope is the payload forwarded to the private service. The user
// identity travels in the body so the private side never sees raw JWTs.
type PredictEnvelope struct {
	UserID    string             `json:"user_id"`
	UserTier  string             `json:"user_tier"`
	RequestID string             `json:"request_id"`
	Request   dto.PredictRequest `json:"request"`
}

// Result is a successful prediction response plus timing.
type Result struct {
	Payload  map[string]interface{}
	Duration time.Duration
}

type Client struct {
	baseURL string
	signer  *Signer
	http    *http.Client
}

func NewClient(baseURL, secret string, timeout time.Duration) (*Client, error) {
	if baseURL == "" || secret == "" {
		return nil, ErrNotConfigured
	}
	signer, err := NewSigner(secret)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL: baseURL,
		signer:  signer,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

const predictPath = "/internal/predict"

// Predict signs and forwards an envelope to the private service and decodes
// the prediction payload. Transport failures map onto the sentinel errors so
// handlers can choose status codes without string matching.
func (c *Client) Predict(ctx context.Context, envelope PredictEnvelope) (*Result, error) {
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("encode prediction request: %w", err)
	}

	timestamp := time.Now().Unix()
	signature := c.signer.Sign(http.MethodPost, predictPath, body, timestamp)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+predictPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build prediction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", signature)
	req.Header.Set("X-Timestamp", fmt.Sprintf("%d", timestamp))
	req.Header.Set("X-Request-ID", envelope.RequestID)

	start := time.Now()
	resp, err := c.http.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp)
	}

	var payload map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		slog.Error("failed to decode prediction response", "error", err.Error())
		return nil, &UpstreamError{Status: resp.StatusCode, Message: "invalid response body"}
	}

	return &Result{Payload: payload, Duration: elapsed}, nil
}

// Health probes the private service without consuming quota.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &UpstreamError{Status: resp.StatusCode, Message: "unhealthy"}
	}
	return nil
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	return ErrUnavailable
}

func classifyStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrBusy
	}
	message := "unexpected response"
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil && len(raw) > 0 {
		var decoded struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &decoded) == nil {
			if decoded.Message != "" {
				message = decoded.Message
			} else if decoded.Error != "" {
				message = decoded.Error
			}
		}
	}
	return &UpstreamError{Status: resp.StatusCode, Message: message}
}
