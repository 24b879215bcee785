// Package classifier talks to the automated image classifier.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const DefaultEndpoint = "https://vision.googleapis.com"

type Config struct {
	Enabled  bool          `mapstructure:"enabled"`
	Endpoint string        `mapstructure:"endpoint"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
	// MaxElapsed bounds the retries of one Classify call.
	MaxElapsed time.Duration `mapstructure:"max_elapsed"`
}

// VisionClient calls the images:annotate SafeSearch endpoint.
type VisionClient struct {
	endpoint     string
	apiKey       string
	timeout      time.Duration
	http         *http.Client
	buildBackoff func() backoff.BackOff
	logger       *zap.Logger
}

func NewVisionClient(cfg Config, httpClient *http.Client, logger *zap.Logger) *VisionClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxElapsed := cfg.MaxElapsed
	if maxElapsed <= 0 {
		maxElapsed = 30 * time.Second
	}
	return &VisionClient{
		endpoint: endpoint,
		apiKey:   cfg.APIKey,
		timeout:  timeout,
		http:     httpClient,
		buildBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = maxElapsed
			return b
		},
		logger: logger,
	}
}

type annotateRequest struct {
	Requests []imageRequest `json:"requests"`
}

type imageRequest struct {
	Image    imageRef  `json:"image"`
	Features []feature `json:"features"`
}

type imageRef struct {
	Source imageSource `json:"source"`
}

type imageSource struct {
	ImageURI string `json:"imageUri"`
}

type feature struct {
	Type string `json:"type"`
}

type annotateResponse struct {
	Responses []struct {
		SafeSearch map[string]string `json:"safeSearchAnnotation"`
		Error      *apiError         `json:"error"`
	} `json:"responses"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("vision error %d: %s", e.Code, e.Message)
}

// StatusError is a non-2xx reply from the endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("vision http %d: %s", e.Code, e.Body)
}

// Classify returns the SafeSearch likelihoods for the image at imageURL, or
// nil when the service returned no annotation.
func (c *VisionClient) Classify(ctx context.Context, imageURL string) (map[string]string, error) {
	body, err := json.Marshal(annotateRequest{Requests: []imageRequest{{
		Image:    imageRef{Source: imageSource{ImageURI: imageURL}},
		Features: []feature{{Type: "SAFE_SEARCH_DETECTION"}},
	}}})
	if err != nil {
		return nil, err
	}

	var out map[string]string
	attempt := func() error {
		res, err := c.annotate(ctx, body)
		if err != nil {
			return err
		}
		out = res
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Debug("retrying classifier call", zap.Duration("wait", wait), zap.Error(err))
	}
	if err := backoff.RetryNotify(attempt, backoff.WithContext(c.buildBackoff(), ctx), notify); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *VisionClient) annotate(ctx context.Context, body []byte) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.endpoint + "/v1/images:annotate"
	if c.apiKey != "" {
		u += "?key=" + url.QueryEscape(c.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		serr := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(payload))}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, serr
		}
		return nil, backoff.Permanent(serr)
	}

	var parsed annotateResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode vision response: %w", err))
	}
	if len(parsed.Responses) == 0 {
		return nil, nil
	}
	first := parsed.Responses[0]
	if first.Error != nil {
		return nil, backoff.Permanent(first.Error)
	}
	return first.SafeSearch, nil
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var serr *StatusError
	return errors.As(err, &serr) && serr.Code == code
}
