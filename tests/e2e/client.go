package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// APIError surfaces non-2xx responses from the server.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

//nolint:errorlint
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrConflict:
		return e.StatusCode == http.StatusConflict
	default:
		return false
	}
}

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

type Student struct {
	Key   string         `json:"key"`
	Attrs map[string]any `json:"attrs"`
}

type PatchEntry struct {
	Key   string         `json:"key"`
	Attrs map[string]any `json:"attrs"`
}

type Roster struct {
	SchoolID string    `json:"schoolId"`
	Version  uint64    `json:"version"`
	Students []Student `json:"students"`
}

type ApplyOutcome struct {
	Applied     int      `json:"applied"`
	SkippedKeys []string `json:"skippedKeys"`
	Version     uint64   `json:"version"`
}

// GetStudents fetches the current roster; returns ErrNotFound on 404.
func (c *Client) GetStudents(ctx context.Context, schoolID string) (Roster, error) {
	var roster Roster
	endpoint := c.studentsURL(schoolID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return roster, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return roster, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return roster, newAPIError(resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, &roster); err != nil {
		return roster, fmt.Errorf("decode roster: %w", err)
	}
	return roster, nil
}

// PatchStudents submits a batch of per-student updates as one unit.
func (c *Client) PatchStudents(ctx context.Context, schoolID string, patch []PatchEntry) (ApplyOutcome, error) {
	var outcome ApplyOutcome

	payload, err := json.Marshal(patch)
	if err != nil {
		return outcome, err
	}

	endpoint := c.studentsURL(schoolID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(payload))
	if err != nil {
		return outcome, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return outcome, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return outcome, newAPIError(resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, &outcome); err != nil {
		return outcome, fmt.Errorf("decode apply outcome: %w", err)
	}
	return outcome, nil
}

func (c *Client) studentsURL(schoolID string) string {
	return c.baseURL + "/schools/" + url.PathEscape(schoolID) + "/students"
}

func newAPIError(status int, body []byte) error {
	if status == http.StatusNotFound {
		return ErrNotFound
	}
	return &APIError{
		StatusCode: status,
		Body:       string(body),
	}
}
