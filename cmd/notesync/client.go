package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/szagi3891/notatki-panel/internal/dashboard"
)

// apiClient talks to the dashboard of a running notesync.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(address string) (*apiClient, error) {
	if address == "" {
		return nil, errors.New("http.address is empty; the dashboard API is disabled")
	}
	base := address
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 5 * time.Second},
	}, nil
}

func (c *apiClient) Status(ctx context.Context) (*dashboard.StatusResponse, error) {
	var resp dashboard.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/status", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) Enable(ctx context.Context) (*dashboard.EnableResponse, error) {
	var resp dashboard.EnableResponse
	if err := c.do(ctx, http.MethodPost, "/api/enable", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("is notesync running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
