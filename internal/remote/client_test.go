package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rollcall/rollcall/internal/schema"
)

func testToken(ctx context.Context) (string, error) {
	return "test-token", nil
}

// fastClient shrinks backoff so retry tests run quickly.
func fastClient(baseURL string) *Client {
	c := New(baseURL, testToken, "device-1", nil)
	c.BackoffMin = time.Millisecond
	c.BackoffMax = 5 * time.Millisecond
	return c
}

func TestRequestHeaders(t *testing.T) {
	var gotAuth, gotDevice, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotDevice = r.Header.Get("X-Device-ID")
		gotAccept = r.Header.Get("Accept")
		json.NewEncoder(w).Encode([]*schema.Subject{})
	}))
	defer srv.Close()

	c := fastClient(srv.URL)
	if _, err := c.Subjects(context.Background()); err != nil {
		t.Fatalf("Subjects failed: %v", err)
	}

	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotDevice != "device-1" {
		t.Errorf("X-Device-ID = %q", gotDevice)
	}
	if gotAccept != "application/json" {
		t.Errorf("Accept = %q", gotAccept)
	}
}

func TestGetRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode([]*schema.Subject{{ID: "sub-1", Name: "Maths"}})
	}))
	defer srv.Close()

	c := fastClient(srv.URL)
	subjects, err := c.Subjects(context.Background())
	if err != nil {
		t.Fatalf("Subjects failed after retries: %v", err)
	}
	if len(subjects) != 1 || subjects[0].ID != "sub-1" {
		t.Errorf("unexpected payload: %+v", subjects)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
}

func TestGetDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad identity", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := fastClient(srv.URL)
	_, err := c.Assignments(context.Background(), "t-1")
	if err == nil {
		t.Fatal("expected error")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("4xx must not be retried, got %d attempts", n)
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusBadRequest {
		t.Errorf("expected StatusError(400), got %v", err)
	}
	if !IsRejected(err) {
		t.Error("4xx should classify as rejected")
	}
	if IsRetriable(err) {
		t.Error("4xx should not classify as retriable")
	}
}

func TestWritesAreNeverRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := fastClient(srv.URL)
	rec := &schema.TeacherAttendance{ID: "local_1_abc", IdentityID: "t-1", Date: "2026-09-01", Status: "present"}
	if _, err := c.CreateTeacherAttendance(context.Background(), rec); err == nil {
		t.Fatal("expected error")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("a write must be submitted exactly once, got %d attempts", n)
	}
}

func TestUnauthorizedClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := fastClient(srv.URL)
	_, err := c.Subjects(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	if !IsRejected(err) {
		t.Error("unauthorized should classify as rejected")
	}
}

func TestTransportFailureIsNetworkUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // no listener left

	c := fastClient(srv.URL)
	_, err := c.Subjects(context.Background())
	if !errors.Is(err, ErrNetworkUnavailable) {
		t.Errorf("expected ErrNetworkUnavailable, got %v", err)
	}
	if !IsRetriable(err) {
		t.Error("network failure should classify as retriable")
	}
	if IsRejected(err) {
		t.Error("network failure is not a rejection")
	}
}

func TestCreateReturnsServerID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in schema.TeacherAttendance
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		in.ID = "srv-900"
		json.NewEncoder(w).Encode(&in)
	}))
	defer srv.Close()

	c := fastClient(srv.URL)
	rec := &schema.TeacherAttendance{ID: "local_1_abc", IdentityID: "t-1", Date: "2026-09-01", Status: "present"}
	created, err := c.CreateTeacherAttendance(context.Background(), rec)
	if err != nil {
		t.Fatalf("CreateTeacherAttendance failed: %v", err)
	}
	if created.ID != "srv-900" {
		t.Errorf("server id not returned: %s", created.ID)
	}
}

func TestBulkUploadResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/attendance/student/bulk" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var in []*schema.StudentAttendance
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		out := make([]BulkResult, len(in))
		for i, rec := range in {
			out[i] = BulkResult{LocalID: rec.ID, ServerID: "srv-" + rec.ID}
		}
		json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	c := fastClient(srv.URL)
	recs := []*schema.StudentAttendance{
		{ID: "local_1_aa", StudentID: "s-1", ClassID: "c-1", IdentityID: "t-1", Date: "2026-09-01", Status: "present"},
		{ID: "local_1_bb", StudentID: "s-2", ClassID: "c-1", IdentityID: "t-1", Date: "2026-09-01", Status: "absent"},
	}
	results, err := c.BulkUploadStudentAttendance(context.Background(), recs)
	if err != nil {
		t.Fatalf("BulkUploadStudentAttendance failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].LocalID != "local_1_aa" || results[0].ServerID != "srv-local_1_aa" {
		t.Errorf("unexpected result: %+v", results[0])
	}
}
