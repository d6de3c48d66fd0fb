package main

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

	"swaprelay/internal/contract"
	"swaprelay/internal/hmacauth"
)

type client struct {
	baseURL string
	sender  string
	secret  string
	http    *http.Client
	now     func() time.Time
}

func newClient(baseURL, sender, secret string) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		sender:  sender,
		secret:  secret,
		http:    &http.Client{Timeout: 30 * time.Second},
		now:     time.Now,
	}
}

// Execute posts a signed message and returns the raw response body.
func (c *client) Execute(ctx context.Context, msg contract.ExecuteMsg) ([]byte, error) {
	if c.sender == "" || c.secret == "" {
		return nil, errors.New("--sender and --secret are required")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/execute", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	hmacauth.SignRequest(req, c.sender, c.secret, body, c.now())
	return c.do(req)
}

func (c *client) JobID(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/job-id", nil)
	if err != nil {
		return "", err
	}
	out, err := c.do(req)
	if err != nil {
		return "", err
	}
	var resp contract.GetJobIDResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return "", fmt.Errorf("decode job id: %w", err)
	}
	return resp.JobID, nil
}

func (c *client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(out)))
	}
	return out, nil
}
