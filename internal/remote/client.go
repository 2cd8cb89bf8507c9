// Package remote implements the HTTP client for the attendance
// service consumed by the sync engine.
//
// Read endpoints are idempotent and retried with bounded backoff on
// 5xx and transport failures. Write endpoints are submitted exactly
// once per call; retry-across-attempts safety comes from the dirty
// flag and the temporary-id rewrite, not from HTTP retries.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rollcall/rollcall/internal/schema"
)

// TokenFunc supplies the bearer token for an outgoing call. The token
// source (credential cache, refresh flow) is opaque to this package.
type TokenFunc func(ctx context.Context) (string, error)

// Client talks to the attendance service.
type Client struct {
	BaseURL  string
	Token    TokenFunc
	DeviceID string
	HTTP     *http.Client

	// Retry policy for idempotent reads.
	RetryAttempts int
	BackoffMin    time.Duration
	BackoffMax    time.Duration

	logger *log.Logger
}

// New creates a client with the default per-call timeout and read
// retry policy. If logger is nil a stderr logger is used.
func New(baseURL string, token TokenFunc, deviceID string, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	return &Client{
		BaseURL:       strings.TrimRight(baseURL, "/"),
		Token:         token,
		DeviceID:      deviceID,
		HTTP:          &http.Client{Timeout: 30 * time.Second},
		RetryAttempts: 3,
		BackoffMin:    500 * time.Millisecond,
		BackoffMax:    8 * time.Second,
		logger:        logger,
	}
}

// Assignments fetches the identity's class/subject assignments.
func (c *Client) Assignments(ctx context.Context, identityID string) ([]*schema.Assignment, error) {
	var out []*schema.Assignment
	q := url.Values{"identity_id": {identityID}}
	if err := c.get(ctx, "/api/v1/assignments", q, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch assignments: %w", err)
	}
	return out, nil
}

// Classes fetches class rosters headers by id set.
func (c *Client) Classes(ctx context.Context, ids []string) ([]*schema.Class, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []*schema.Class
	q := url.Values{"ids": {strings.Join(ids, ",")}}
	if err := c.get(ctx, "/api/v1/classes", q, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch classes: %w", err)
	}
	return out, nil
}

// StudentsByClass fetches all students enrolled in the given classes.
func (c *Client) StudentsByClass(ctx context.Context, classIDs []string) ([]*schema.Student, error) {
	if len(classIDs) == 0 {
		return nil, nil
	}
	var out []*schema.Student
	q := url.Values{"class_ids": {strings.Join(classIDs, ",")}}
	if err := c.get(ctx, "/api/v1/students", q, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch students: %w", err)
	}
	return out, nil
}

// Subjects fetches the subject catalogue.
func (c *Client) Subjects(ctx context.Context) ([]*schema.Subject, error) {
	var out []*schema.Subject
	if err := c.get(ctx, "/api/v1/subjects", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch subjects: %w", err)
	}
	return out, nil
}

// CreateTeacherAttendance submits a never-before-synced record. The
// response carries the server-issued id.
func (c *Client) CreateTeacherAttendance(ctx context.Context, rec *schema.TeacherAttendance) (*schema.TeacherAttendance, error) {
	var out schema.TeacherAttendance
	if err := c.write(ctx, http.MethodPost, "/api/v1/attendance/teacher", rec, &out); err != nil {
		return nil, fmt.Errorf("failed to create teacher attendance: %w", err)
	}
	return &out, nil
}

// UpdateTeacherAttendance resubmits an edited record by its server id.
func (c *Client) UpdateTeacherAttendance(ctx context.Context, id string, rec *schema.TeacherAttendance) error {
	path := "/api/v1/attendance/teacher/" + url.PathEscape(id)
	if err := c.write(ctx, http.MethodPut, path, rec, nil); err != nil {
		return fmt.Errorf("failed to update teacher attendance %s: %w", id, err)
	}
	return nil
}

// CreateStudentAttendance submits a never-before-synced record.
func (c *Client) CreateStudentAttendance(ctx context.Context, rec *schema.StudentAttendance) (*schema.StudentAttendance, error) {
	var out schema.StudentAttendance
	if err := c.write(ctx, http.MethodPost, "/api/v1/attendance/student", rec, &out); err != nil {
		return nil, fmt.Errorf("failed to create student attendance: %w", err)
	}
	return &out, nil
}

// UpdateStudentAttendance resubmits an edited record by its server id.
func (c *Client) UpdateStudentAttendance(ctx context.Context, id string, rec *schema.StudentAttendance) error {
	path := "/api/v1/attendance/student/" + url.PathEscape(id)
	if err := c.write(ctx, http.MethodPut, path, rec, nil); err != nil {
		return fmt.Errorf("failed to update student attendance %s: %w", id, err)
	}
	return nil
}

// BulkResult is one record's outcome from a bulk upload. Results are
// keyed by the id the client submitted (the temporary id for new
// rows), so the caller can rewrite identifiers the same way it does
// for single-record creates.
type BulkResult struct {
	LocalID  string `json:"local_id"`
	ServerID string `json:"server_id,omitempty"`
	Err      string `json:"error,omitempty"`
}

// BulkUploadTeacherAttendance submits a batch of records in one call.
func (c *Client) BulkUploadTeacherAttendance(ctx context.Context, recs []*schema.TeacherAttendance) ([]BulkResult, error) {
	var out []BulkResult
	if err := c.write(ctx, http.MethodPost, "/api/v1/attendance/teacher/bulk", recs, &out); err != nil {
		return nil, fmt.Errorf("failed to bulk upload teacher attendance: %w", err)
	}
	return out, nil
}

// BulkUploadStudentAttendance submits a batch of records in one call.
func (c *Client) BulkUploadStudentAttendance(ctx context.Context, recs []*schema.StudentAttendance) ([]BulkResult, error) {
	var out []BulkResult
	if err := c.write(ctx, http.MethodPost, "/api/v1/attendance/student/bulk", recs, &out); err != nil {
		return nil, fmt.Errorf("failed to bulk upload student attendance: %w", err)
	}
	return out, nil
}

// get performs an idempotent read with bounded retry/backoff.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	backoff := c.BackoffMin
	var lastErr error

	for attempt := 0; attempt < c.RetryAttempts; attempt++ {
		if attempt > 0 {
			c.logger.Printf("Retrying GET %s (attempt %d/%d) after %v: %v",
				path, attempt+1, c.RetryAttempts, backoff, lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > c.BackoffMax {
				backoff = c.BackoffMax
			}
		}

		lastErr = c.do(ctx, http.MethodGet, path, query, nil, out)
		if lastErr == nil {
			return nil
		}
		if !IsRetriable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// write performs a non-idempotent call exactly once.
func (c *Client) write(ctx context.Context, method, path string, body, out any) error {
	return c.do(ctx, method, path, nil, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.DeviceID != "" {
		req.Header.Set("X-Device-ID", c.DeviceID)
	}
	if c.Token != nil {
		token, err := c.Token(ctx)
		if err != nil {
			return fmt.Errorf("failed to obtain token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		// Transport-level failure: never reached the service.
		return fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
