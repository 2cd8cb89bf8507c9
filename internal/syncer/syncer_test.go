package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rollcall/rollcall/internal/localid"
	"github.com/rollcall/rollcall/internal/remote"
	"github.com/rollcall/rollcall/internal/schema"
	"github.com/rollcall/rollcall/internal/store"
)

// fakeService is an in-memory stand-in for the attendance service.
type fakeService struct {
	mu sync.Mutex

	assignments []*schema.Assignment
	classes     []*schema.Class
	students    []*schema.Student
	subjects    []*schema.Subject

	nextID  int
	creates int      // attendance POSTs accepted
	updates []string // ids of attendance PUTs accepted

	bulkCalls int

	// Failure injection.
	assignmentStatus int  // non-zero: GET /assignments returns this
	rejectStudentID  string // student rows for this student get a 400
	bulkStatus       int  // non-zero: bulk endpoints return this
	bulkDropLocalID  string // omit this record from the bulk response

	// blockPulls, when non-nil, stalls assignment fetches until closed.
	blockPulls chan struct{}
}

func (f *fakeService) issueID() string {
	f.nextID++
	return fmt.Sprintf("srv-%d", f.nextID)
}

func (f *fakeService) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/assignments", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		block := f.blockPulls
		status := f.assignmentStatus
		f.mu.Unlock()
		if block != nil {
			<-block
		}
		if status != 0 {
			w.WriteHeader(status)
			return
		}
		f.writeJSON(w, f.assignments)
	})
	mux.HandleFunc("/api/v1/classes", func(w http.ResponseWriter, r *http.Request) {
		f.writeJSON(w, f.classes)
	})
	mux.HandleFunc("/api/v1/students", func(w http.ResponseWriter, r *http.Request) {
		f.writeJSON(w, f.students)
	})
	mux.HandleFunc("/api/v1/subjects", func(w http.ResponseWriter, r *http.Request) {
		f.writeJSON(w, f.subjects)
	})

	mux.HandleFunc("/api/v1/attendance/teacher/bulk", f.handleBulkTeacher)
	mux.HandleFunc("/api/v1/attendance/student/bulk", f.handleBulkStudent)
	mux.HandleFunc("/api/v1/attendance/teacher", f.handleCreateTeacher)
	mux.HandleFunc("/api/v1/attendance/teacher/", f.handleUpdate)
	mux.HandleFunc("/api/v1/attendance/student", f.handleCreateStudent)
	mux.HandleFunc("/api/v1/attendance/student/", f.handleUpdate)

	return mux
}

func (f *fakeService) writeJSON(w http.ResponseWriter, v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeService) handleCreateTeacher(w http.ResponseWriter, r *http.Request) {
	var rec schema.TeacherAttendance
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	rec.ID = f.issueID()
	f.creates++
	f.mu.Unlock()
	_ = json.NewEncoder(w).Encode(&rec)
}

func (f *fakeService) handleCreateStudent(w http.ResponseWriter, r *http.Request) {
	var rec schema.StudentAttendance
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	reject := f.rejectStudentID != "" && rec.StudentID == f.rejectStudentID
	if !reject {
		rec.ID = f.issueID()
		f.creates++
	}
	f.mu.Unlock()
	if reject {
		http.Error(w, "unknown student", http.StatusBadRequest)
		return
	}
	_ = json.NewEncoder(w).Encode(&rec)
}

func (f *fakeService) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	parts := strings.Split(r.URL.Path, "/")
	id := parts[len(parts)-1]
	f.mu.Lock()
	f.updates = append(f.updates, id)
	f.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (f *fakeService) handleBulkTeacher(w http.ResponseWriter, r *http.Request) {
	var recs []*schema.TeacherAttendance
	if err := json.NewDecoder(r.Body).Decode(&recs); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ids := make([]string, len(recs))
	for i, rec := range recs {
		ids[i] = rec.ID
	}
	f.respondBulk(w, ids)
}

func (f *fakeService) handleBulkStudent(w http.ResponseWriter, r *http.Request) {
	var recs []*schema.StudentAttendance
	if err := json.NewDecoder(r.Body).Decode(&recs); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ids := make([]string, len(recs))
	for i, rec := range recs {
		ids[i] = rec.ID
	}
	f.respondBulk(w, ids)
}

func (f *fakeService) respondBulk(w http.ResponseWriter, localIDs []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulkCalls++
	if f.bulkStatus != 0 {
		w.WriteHeader(f.bulkStatus)
		return
	}
	var out []remote.BulkResult
	for _, id := range localIDs {
		if id == f.bulkDropLocalID {
			continue
		}
		f.creates++
		out = append(out, remote.BulkResult{LocalID: id, ServerID: f.issueID()})
	}
	_ = json.NewEncoder(w).Encode(out)
}

// harness wires a real store against the fake service.
type harness struct {
	store   *store.Store
	remote  *remote.Client
	service *fakeService
}

func newHarness(t *testing.T, svc *fakeService) *harness {
	t.Helper()
	if svc == nil {
		svc = &fakeService{}
	}

	srv := httptest.NewServer(svc.handler())
	t.Cleanup(srv.Close)

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	rc := remote.New(srv.URL, func(ctx context.Context) (string, error) {
		return "test-token", nil
	}, "device-test", testLogger())
	rc.BackoffMin = time.Millisecond
	rc.BackoffMax = 5 * time.Millisecond

	return &harness{store: st, remote: rc, service: svc}
}

func testLogger() *log.Logger {
	return log.New(&strings.Builder{}, "", 0)
}

func seedTeacherRow(t *testing.T, st *store.Store, identityID, date string) *schema.TeacherAttendance {
	t.Helper()
	rec := &schema.TeacherAttendance{
		ID:         localid.New(),
		IdentityID: identityID,
		Date:       date,
		Status:     schema.TeacherPresent,
	}
	if err := st.InsertTeacherAttendance(context.Background(), rec); err != nil {
		t.Fatalf("InsertTeacherAttendance failed: %v", err)
	}
	return rec
}

func seedStudentRow(t *testing.T, st *store.Store, studentID, date string) *schema.StudentAttendance {
	t.Helper()
	rec := &schema.StudentAttendance{
		ID:         localid.New(),
		StudentID:  studentID,
		ClassID:    "c-1",
		IdentityID: "t-1",
		Date:       date,
		Status:     schema.StudentPresent,
	}
	if err := st.InsertStudentAttendance(context.Background(), rec); err != nil {
		t.Fatalf("InsertStudentAttendance failed: %v", err)
	}
	return rec
}
