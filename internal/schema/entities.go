// Package schema defines the entity types mirrored from the remote
// attendance service into the local store.
//
// Every mirrored row carries SyncMeta alongside its domain fields:
// local mutation timestamps, the timestamp of the last confirmed
// remote acknowledgement, and the dirty flag that marks unconfirmed
// local writes. Reference data (identities, assignments, classes,
// students, subjects) is never edited offline and therefore never
// dirty; attendance records are the only locally-mutated tables.
package schema

import (
	"fmt"
	"time"
)

// DateFormat is the canonical storage format for attendance dates.
const DateFormat = "2006-01-02"

// SyncMeta holds the per-row synchronization metadata shared by all
// mirrored tables.
type SyncMeta struct {
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	Dirty        bool       `json:"is_dirty"`
}

// Touch stamps the mutation timestamps and marks the row dirty.
// Called on every local create or update.
func (m *SyncMeta) Touch(now time.Time) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	m.Dirty = true
}

// Identity is a signed-in teacher account as known to the remote
// service. The local mirror holds the identity that owns the current
// data set, plus any identities referenced by pulled rows.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`

	SyncMeta
}

// Assignment links an identity to a class and subject it teaches.
type Assignment struct {
	ID         string `json:"id"`
	IdentityID string `json:"identity_id"`
	ClassID    string `json:"class_id"`
	SubjectID  string `json:"subject_id"`
	Role       string `json:"role,omitempty"` // class_teacher, subject_teacher

	SyncMeta
}

// Class is a pulled class roster header.
type Class struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Grade string `json:"grade,omitempty"`

	SyncMeta
}

// Student is a pulled class member.
type Student struct {
	ID         string `json:"id"`
	ClassID    string `json:"class_id"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	RollNumber string `json:"roll_number,omitempty"`

	SyncMeta
}

// Subject is a pulled subject.
type Subject struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Code string `json:"code,omitempty"`

	SyncMeta
}

// Validate checks an assignment's required fields.
func (a *Assignment) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("id is required")
	}
	if a.IdentityID == "" {
		return fmt.Errorf("identity_id is required")
	}
	if a.ClassID == "" {
		return fmt.Errorf("class_id is required")
	}
	return nil
}
