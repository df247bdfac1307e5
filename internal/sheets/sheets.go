// Package sheets provides a minimal spreadsheet REST client for the
// dynamic menu source and the spreadsheet delivery sink. It speaks the
// Google Sheets v4 values API: read a range, append a row.
package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

// Client is a spreadsheet API client.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

// Config configures the sheets client.
type Config struct {
	Token      string // bearer token; falls back to SHEETS_API_TOKEN
	BaseURL    string
	HTTPClient *http.Client
}

// New creates a new sheets client.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	token := cfg.Token
	if token == "" {
		token = os.Getenv("SHEETS_API_TOKEN")
	}
	if token == "" {
		return nil, fmt.Errorf("SHEETS_API_TOKEN is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://sheets.googleapis.com/v4"
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 30 * time.Second,
		}
	}

	return &Client{
		token:      token,
		baseURL:    baseURL,
		httpClient: httpClient,
	}, nil
}

// valueRange is the values API payload for both reads and appends.
type valueRange struct {
	Range  string  `json:"range,omitempty"`
	Values [][]any `json:"values"`
}

// AppendRow appends one row to the given A1 range of the spreadsheet.
func (c *Client) AppendRow(ctx context.Context, spreadsheetID, a1Range string, row []any) error {
	endpoint := fmt.Sprintf("%s/spreadsheets/%s/values/%s:append?valueInputOption=USER_ENTERED",
		c.baseURL, url.PathEscape(spreadsheetID), url.PathEscape(a1Range))

	return c.post(ctx, endpoint, valueRange{Values: [][]any{row}}, nil)
}

// ReadRange reads the given A1 range and returns the cells as strings.
// Numeric cells are rendered with %v.
func (c *Client) ReadRange(ctx context.Context, spreadsheetID, a1Range string) ([][]string, error) {
	endpoint := fmt.Sprintf("%s/spreadsheets/%s/values/%s",
		c.baseURL, url.PathEscape(spreadsheetID), url.PathEscape(a1Range))

	var vr valueRange
	if err := c.get(ctx, endpoint, &vr); err != nil {
		return nil, err
	}

	rows := make([][]string, 0, len(vr.Values))
	for _, raw := range vr.Values {
		row := make([]string, 0, len(raw))
		for _, cell := range raw {
			if s, ok := cell.(string); ok {
				row = append(row, s)
			} else {
				row = append(row, fmt.Sprintf("%v", cell))
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Error represents a sheets API error.
type Error struct {
	StatusCode int    `json:"code"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("sheets error %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether the error is worth retrying: rate limits
// and server-side failures.
func (e *Error) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// get performs a GET request.
func (c *Client) get(ctx context.Context, url string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return c.do(req, result)
}

// post performs a POST request with a JSON body.
func (c *Client) post(ctx context.Context, url string, body, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, result)
}

// do executes a request with authentication.
func (c *Client) do(req *http.Request, result any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var wrapper struct {
			Error Error `json:"error"`
		}
		if err := json.Unmarshal(body, &wrapper); err != nil || wrapper.Error.Message == "" {
			return &Error{StatusCode: resp.StatusCode, Message: string(body)}
		}
		wrapper.Error.StatusCode = resp.StatusCode
		return &wrapper.Error
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}
