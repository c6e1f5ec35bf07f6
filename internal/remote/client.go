package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kilupskalvis/qsync/internal/lifecycle"
	"github.com/kilupskalvis/qsync/internal/models"
)

// Gateway is the contract between the sync engine and the record store.
// Every call either fully succeeds or fails; there is no partial success.
type Gateway interface {
	CreateRecord(ctx context.Context, clientKey string, fields models.Delta) (string, error)
	MutateRecord(ctx context.Context, id string, req lifecycle.MutationRequest, hints models.PriorState) error
	ReadAll(ctx context.Context) ([]models.Query, error)
}

// DefaultTimeout bounds a single gateway call.
const DefaultTimeout = 30 * time.Second

// apiClient is the JSON-over-HTTP plumbing shared by HTTPClient and AdminClient.
type apiClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func newAPIClient(baseURL, token string) apiClient {
	return apiClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
}

// do sends one request. Every request carries a fresh X-Request-ID that the
// server echoes into its logs.
func (c *apiClient) do(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	return resp, nil
}

// doJSON encodes reqBody (if any), decodes a 2xx body into respBody (if any)
// and turns error statuses into *RemoteError.
func (c *apiClient) doJSON(ctx context.Context, method, url string, reqBody, respBody any) error {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	resp, err := c.do(ctx, method, url, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if respBody == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// HTTPClient implements Gateway over the record server's JSON API.
type HTTPClient struct {
	apiClient
	sheet string
}

// NewHTTPClient creates a gateway bound to one sheet of a record server.
func NewHTTPClient(baseURL, sheet, token string) *HTTPClient {
	return &HTTPClient{apiClient: newAPIClient(baseURL, token), sheet: sheet}
}

// WithTimeout sets the per-call timeout. Zero disables it.
func (c *HTTPClient) WithTimeout(d time.Duration) *HTTPClient {
	c.httpClient.Timeout = d
	return c
}

func (c *HTTPClient) sheetURL(path string) string {
	return fmt.Sprintf("%s/api/v1/sheets/%s%s", c.baseURL, url.PathEscape(c.sheet), path)
}

// CreateRecord inserts a record and returns its server-assigned id.
func (c *HTTPClient) CreateRecord(ctx context.Context, clientKey string, fields models.Delta) (string, error) {
	req := &CreateRecordRequest{ClientKey: clientKey, Fields: fields}
	var resp CreateRecordResponse
	if err := c.doJSON(ctx, http.MethodPost, c.sheetURL("/records"), req, &resp); err != nil {
		return "", fmt.Errorf("create record: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("create record: server returned no id")
	}
	return resp.ID, nil
}

// MutateRecord sends a mutation with its prior-state hints.
func (c *HTTPClient) MutateRecord(ctx context.Context, id string, req lifecycle.MutationRequest, hints models.PriorState) error {
	body := &MutateRecordRequest{Mutation: req, Hints: hints}
	if err := c.doJSON(ctx, http.MethodPost, c.sheetURL("/records/"+url.PathEscape(id)+"/mutations"), body, nil); err != nil {
		return fmt.Errorf("mutate record %s: %w", id, err)
	}
	return nil
}

// ReadAll returns every record of the sheet in row order.
func (c *HTTPClient) ReadAll(ctx context.Context) ([]models.Query, error) {
	var list RecordList
	if err := c.doJSON(ctx, http.MethodGet, c.sheetURL("/records"), nil, &list); err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	return list.Records, nil
}

// RemoteError represents a structured error from the server.
type RemoteError struct {
	Code       string
	Message    string
	Status     int
	RetryAfter time.Duration // from the Retry-After header, if any
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error (%d): %s: %s", e.Status, e.Code, e.Message)
}

// IsStatus reports whether err carries a RemoteError with the given HTTP status.
func IsStatus(err error, status int) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Status == status
}

func decodeError(resp *http.Response) error {
	re := &RemoteError{Status: resp.StatusCode, RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}

	var errResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		re.Code = "unknown"
		re.Message = fmt.Sprintf("HTTP %d", resp.StatusCode)
		return re
	}
	re.Code = errResp.Error
	re.Message = errResp.Message
	return re
}

// parseRetryAfter accepts the delay-seconds form only.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
