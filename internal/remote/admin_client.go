package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// AdminClient talks to the qsync-server admin API. It is not bound to a
// sheet and is not a Gateway.
type AdminClient struct {
	apiClient
}

// NewAdminClient creates an admin API client. It warns on stderr when the
// admin token would travel over plain http.
func NewAdminClient(baseURL, token string) *AdminClient {
	if strings.HasPrefix(baseURL, "http://") {
		fmt.Fprintf(os.Stderr, "warning: sending credentials over unencrypted HTTP connection\n")
	}
	return &AdminClient{apiClient: newAPIClient(baseURL, token)}
}

// AdminTokenCreateRequest is the body of POST /admin/tokens.
type AdminTokenCreateRequest struct {
	Description string   `json:"description"`
	Sheets      []string `json:"sheets"`
	Permission  string   `json:"permission"`
}

// AdminTokenInfo is one entry of GET /admin/tokens. Raw token values are
// never listed.
type AdminTokenInfo struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Sheets      []string `json:"sheets"`
	Permission  string   `json:"permission"`
}

// AdminTokenCreateResponse carries the raw token, shown exactly once.
type AdminTokenCreateResponse struct {
	AdminTokenInfo
	Token string `json:"token"`
}

// SheetList is the response of GET /admin/sheets.
type SheetList struct {
	Sheets []string `json:"sheets"`
}

// SheetCreateRequest is the body of POST /admin/sheets.
type SheetCreateRequest struct {
	Name string `json:"name"`
}

func (c *AdminClient) adminURL(parts ...string) string {
	var b strings.Builder
	b.WriteString(c.baseURL)
	b.WriteString("/admin")
	for _, p := range parts {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(p))
	}
	return b.String()
}

// CreateToken creates a token scoped to sheets with the given permission.
func (c *AdminClient) CreateToken(ctx context.Context, desc string, sheets []string, permission string) (*AdminTokenCreateResponse, error) {
	req := AdminTokenCreateRequest{Description: desc, Sheets: sheets, Permission: permission}
	var resp AdminTokenCreateResponse
	if err := c.doJSON(ctx, http.MethodPost, c.adminURL("tokens"), req, &resp); err != nil {
		return nil, fmt.Errorf("create token: %w", err)
	}
	return &resp, nil
}

// ListTokens lists token metadata.
func (c *AdminClient) ListTokens(ctx context.Context) ([]AdminTokenInfo, error) {
	var tokens []AdminTokenInfo
	if err := c.doJSON(ctx, http.MethodGet, c.adminURL("tokens"), nil, &tokens); err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	return tokens, nil
}

// DeleteToken revokes a token by id.
func (c *AdminClient) DeleteToken(ctx context.Context, id string) error {
	if err := c.doJSON(ctx, http.MethodDelete, c.adminURL("tokens", id), nil, nil); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// CreateSheet creates an empty sheet.
func (c *AdminClient) CreateSheet(ctx context.Context, name string) error {
	if err := c.doJSON(ctx, http.MethodPost, c.adminURL("sheets"), SheetCreateRequest{Name: name}, nil); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	return nil
}

// ListSheets returns the sheet names in sorted order.
func (c *AdminClient) ListSheets(ctx context.Context) ([]string, error) {
	var resp SheetList
	if err := c.doJSON(ctx, http.MethodGet, c.adminURL("sheets"), nil, &resp); err != nil {
		return nil, fmt.Errorf("list sheets: %w", err)
	}
	return resp.Sheets, nil
}

// DeleteSheet removes a sheet and its records.
func (c *AdminClient) DeleteSheet(ctx context.Context, name string) error {
	if err := c.doJSON(ctx, http.MethodDelete, c.adminURL("sheets", name), nil, nil); err != nil {
		return fmt.Errorf("delete sheet: %w", err)
	}
	return nil
}

// Purge removes records whose deletion was approved before olderThan.
func (c *AdminClient) Purge(ctx context.Context, sheet string, olderThan time.Time) (*PurgeResult, error) {
	var resp PurgeResult
	req := PurgeRequest{OlderThan: olderThan.UTC()}
	if err := c.doJSON(ctx, http.MethodPost, c.adminURL("sheets", sheet, "purge"), req, &resp); err != nil {
		return nil, fmt.Errorf("purge %s: %w", sheet, err)
	}
	return &resp, nil
}
