// Package aap is the REST client for the automation controller: login,
// job-template launch, job status and stdout retrieval, and the polling loop
// that waits a launched job to completion.
package aap

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/aapchat/aapchat/pkg/logger"
)

// Auth schemes for Credentials.AuthScheme.
const (
	AuthBearer = "bearer"
	AuthBasic  = "basic"
)

// Credentials is what one controller call needs. The token is either a
// personal access token (bearer) or a base64 user:password blob (basic).
type Credentials struct {
	BaseURL    string
	Token      string
	AuthScheme string
}

type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
}

type ClientOption func(*Client)

// WithInsecureTLS skips certificate verification, for controllers with
// self-signed certificates.
func WithInsecureTLS() ClientOption {
	return func(c *Client) {
		c.httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithRateLimit caps outgoing controller requests across all conversations.
func WithRateLimit(rps float64) ClientOption {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
		}
	}
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Authenticate exchanges a username/password for controller credentials.
// The token endpoint is tried first; controllers that refuse token creation
// fall back to verified basic auth.
func (c *Client) Authenticate(ctx context.Context, baseURL, username, password string) (Credentials, error) {
	base := strings.TrimRight(baseURL, "/")
	body, _ := json.Marshal(map[string]any{
		"description": "AAP AI Helper Session",
		"application": nil,
		"scope":       "write",
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/tokens/", bytes.NewReader(body))
	if err != nil {
		return Credentials{}, &AuthError{Reason: "building token request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(username, password)

	resp, err := c.do(ctx, req)
	if err != nil {
		return Credentials{}, &AuthError{Reason: "cannot connect to controller", Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		var tokenData struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&tokenData); err != nil || tokenData.Token == "" {
			return Credentials{}, &AuthError{Reason: "token endpoint returned no token", Err: err}
		}
		logger.InfoCF("aap", "authenticated via access token", map[string]any{"username": username})
		return Credentials{BaseURL: baseURL, Token: tokenData.Token, AuthScheme: AuthBearer}, nil

	case http.StatusUnauthorized:
		return Credentials{}, ErrInvalidCredentials

	default:
		// Some controller versions refuse token creation; verify the
		// credentials directly and fall back to basic auth.
		verifyReq, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/me/", nil)
		if err != nil {
			return Credentials{}, &AuthError{Reason: "building verify request", Err: err}
		}
		verifyReq.SetBasicAuth(username, password)

		verifyResp, err := c.do(ctx, verifyReq)
		if err != nil {
			return Credentials{}, &AuthError{Reason: "cannot connect to controller", Err: err}
		}
		defer verifyResp.Body.Close()

		if verifyResp.StatusCode != http.StatusOK {
			return Credentials{}, &AuthError{
				Reason: fmt.Sprintf("controller rejected credentials (status=%d)", resp.StatusCode),
			}
		}
		blob := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		logger.InfoCF("aap", "authenticated via basic auth fallback", map[string]any{"username": username})
		return Credentials{BaseURL: baseURL, Token: blob, AuthScheme: AuthBasic}, nil
	}
}

// LaunchJob launches a job template and returns the spawned job id.
func (c *Client) LaunchJob(ctx context.Context, creds Credentials, templateID int, extraVars map[string]any) (int, error) {
	url := fmt.Sprintf("%s/job_templates/%d/launch/", strings.TrimRight(creds.BaseURL, "/"), templateID)

	// Listing templates take no variables and expect an empty payload.
	body := map[string]any{}
	if extraVars != nil {
		body["extra_vars"] = extraVars
	}
	payload, _ := json.Marshal(body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	c.applyAuth(req, creds)

	resp, err := c.do(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("launching job template %d: %w", templateID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, &APIError{StatusCode: resp.StatusCode, URL: url, Body: readBody(resp.Body)}
	}

	var result struct {
		Job int `json:"job"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("decoding launch response for template %d: %w", templateID, err)
	}
	logger.InfoCF("aap", "job launched", map[string]any{
		"template_id": templateID,
		"job_id":      result.Job,
	})
	return result.Job, nil
}

// JobStatus fetches a job's status plus its full detail document. Regular
// jobs are tried first, then the system-jobs endpoint for ids that live
// there. "unknown" comes back when neither endpoint answers.
func (c *Client) JobStatus(ctx context.Context, creds Credentials, jobID int) (string, map[string]any, error) {
	base := strings.TrimRight(creds.BaseURL, "/")

	for _, url := range []string{
		fmt.Sprintf("%s/jobs/%d/?format=json", base, jobID),
		fmt.Sprintf("%s/system_jobs/%d/?format=json", base, jobID),
	} {
		details, err := c.getJSON(ctx, creds, url)
		if err != nil {
			logger.DebugCF("aap", "job status endpoint failed", map[string]any{
				"url":   url,
				"error": err.Error(),
			})
			continue
		}
		if status, ok := details["status"].(string); ok {
			return status, details, nil
		}
	}
	return "unknown", nil, nil
}

// JobStdout fetches a job's raw output text.
func (c *Client) JobStdout(ctx context.Context, creds Credentials, jobID int) (string, error) {
	url := fmt.Sprintf("%s/jobs/%d/stdout/?format=json", strings.TrimRight(creds.BaseURL, "/"), jobID)

	result, err := c.getJSON(ctx, creds, url)
	if err != nil {
		return "", fmt.Errorf("fetching job %d output: %w", jobID, err)
	}
	content, _ := result["content"].(string)
	return content, nil
}

func (c *Client) getJSON(ctx context.Context, creds Credentials, url string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.applyAuth(req, creds)

	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, URL: url, Body: readBody(resp.Body)}
	}

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return c.httpClient.Do(req)
}

func (c *Client) applyAuth(req *http.Request, creds Credentials) {
	req.Header.Set("Content-Type", "application/json")
	if creds.Token == "" {
		return
	}
	switch creds.AuthScheme {
	case AuthBasic:
		req.Header.Set("Authorization", "Basic "+creds.Token)
	default:
		req.Header.Set("Authorization", "Bearer "+creds.Token)
	}
}

func readBody(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 2048))
	return strings.TrimSpace(string(data))
}
