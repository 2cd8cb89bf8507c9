package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/rollcall/rollcall/internal/localid"
	"github.com/rollcall/rollcall/internal/schema"
	"github.com/rollcall/rollcall/internal/store"
	"github.com/rollcall/rollcall/internal/ui"
)

var (
	markDate    string
	markRemarks string
	markClass   string
	markSubject string
)

var markCmd = &cobra.Command{
	Use:     "mark",
	GroupID: "attendance",
	Short:   "Mark attendance locally",
	Long: `Mark attendance in the local store.

Records are created immediately and work offline; the sync daemon (or
an explicit ` + "`rollcall sync`" + `) delivers them to the service later.
Marking the same date again edits the existing record.

Dates accept natural language ("today", "yesterday", "last monday") as
well as the YYYY-MM-DD form.`,
}

var markMeCmd = &cobra.Command{
	Use:   "me <present|absent|leave>",
	Short: "Mark your own attendance",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e := openEnv(true)
		defer e.Close()
		ctx := cmd.Context()

		date, err := resolveDate(markDate)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		existing, err := e.store.GetTeacherAttendanceByDate(ctx, e.identityID, date)
		switch {
		case err == nil:
			existing.Status = args[0]
			existing.Remarks = markRemarks
			if err := e.store.UpdateTeacherAttendance(ctx, existing); err != nil {
				fmt.Fprintf(os.Stderr, "Error updating attendance: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("%s Updated your attendance for %s: %s\n", ui.RenderPass("✓"), date, args[0])

		case errors.Is(err, store.ErrNotFound):
			rec := &schema.TeacherAttendance{
				ID:         localid.New(),
				IdentityID: e.identityID,
				Date:       date,
				Status:     args[0],
				Remarks:    markRemarks,
			}
			if err := e.store.InsertTeacherAttendance(ctx, rec); err != nil {
				fmt.Fprintf(os.Stderr, "Error marking attendance: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("%s Marked your attendance for %s: %s\n", ui.RenderPass("✓"), date, args[0])

		default:
			fmt.Fprintf(os.Stderr, "Error reading attendance: %v\n", err)
			os.Exit(1)
		}

		printPending(ctx, e)
	},
}

var markStudentCmd = &cobra.Command{
	Use:   "student <student-id> <present|absent|late|excused>",
	Short: "Mark one student's attendance",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		e := openEnv(true)
		defer e.Close()
		ctx := cmd.Context()

		date, err := resolveDate(markDate)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		studentID, status := args[0], args[1]
		classID := markClass
		if classID == "" {
			// Look the class up from the pulled roster.
			if student, err := e.store.GetStudent(ctx, studentID); err == nil {
				classID = student.ClassID
			}
		}
		if classID == "" {
			fmt.Fprintf(os.Stderr, "Error: student %s is not in the local roster; pass --class or run `rollcall sync` first\n", studentID)
			os.Exit(1)
		}

		if err := markOneStudent(ctx, e, studentID, classID, status, date); err != nil {
			fmt.Fprintf(os.Stderr, "Error marking attendance: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Marked %s for %s: %s\n", ui.RenderPass("✓"), studentID, date, status)
		printPending(ctx, e)
	},
}

var markClassCmd = &cobra.Command{
	Use:   "class <class-id>",
	Short: "Mark a whole class present",
	Long: `Mark every student in the class present for the date.

Individual corrections afterwards (` + "`rollcall mark student`" + `) edit the
created records in place.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e := openEnv(true)
		defer e.Close()
		ctx := cmd.Context()

		date, err := resolveDate(markDate)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		classID := args[0]
		students, err := e.store.ListStudentsByClass(ctx, classID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading roster: %v\n", err)
			os.Exit(1)
		}
		if len(students) == 0 {
			fmt.Fprintf(os.Stderr, "Error: no students found for class %s; run `rollcall sync` to pull the roster\n", classID)
			os.Exit(1)
		}

		marked := 0
		for _, student := range students {
			if err := markOneStudent(ctx, e, student.ID, classID, schema.StudentPresent, date); err != nil {
				fmt.Fprintf(os.Stderr, "%s %s: %v\n", ui.RenderFail("✗"), student.ID, err)
				continue
			}
			marked++
		}

		fmt.Printf("%s Marked %d/%d student(s) present for %s\n", ui.RenderPass("✓"), marked, len(students), date)
		printPending(ctx, e)
	},
}

// markOneStudent creates or edits the (student, subject, date) record.
func markOneStudent(ctx context.Context, e *env, studentID, classID, status, date string) error {
	existing, err := e.store.GetStudentAttendanceByKey(ctx, studentID, markSubject, date)
	switch {
	case err == nil:
		existing.Status = status
		existing.Remarks = markRemarks
		return e.store.UpdateStudentAttendance(ctx, existing)

	case errors.Is(err, store.ErrNotFound):
		rec := &schema.StudentAttendance{
			ID:         localid.New(),
			StudentID:  studentID,
			ClassID:    classID,
			SubjectID:  markSubject,
			IdentityID: e.identityID,
			Date:       date,
			Status:     status,
			Remarks:    markRemarks,
		}
		return e.store.InsertStudentAttendance(ctx, rec)

	default:
		return err
	}
}

// resolveDate turns natural-language or YYYY-MM-DD input into the
// canonical storage form. Empty input means today.
func resolveDate(input string) (string, error) {
	if input == "" {
		return time.Now().Format(schema.DateFormat), nil
	}
	if t, err := time.Parse(schema.DateFormat, input); err == nil {
		return t.Format(schema.DateFormat), nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	res, err := w.Parse(input, time.Now())
	if err != nil {
		return "", fmt.Errorf("cannot parse date %q: %w", input, err)
	}
	if res == nil {
		return "", fmt.Errorf("cannot parse date %q", input)
	}
	return res.Time.Format(schema.DateFormat), nil
}

// printPending shows the post-mark pending count so offline users see
// their record queued.
func printPending(ctx context.Context, e *env) {
	pending, err := e.engine.PendingCount(ctx)
	if err != nil {
		return
	}
	fmt.Printf("  %d record(s) pending sync\n", pending.Total)
}

func init() {
	for _, cmd := range []*cobra.Command{markMeCmd, markStudentCmd, markClassCmd} {
		cmd.Flags().StringVar(&markDate, "date", "", "attendance date (default today)")
		cmd.Flags().StringVar(&markRemarks, "remarks", "", "free-form remarks")
	}
	markStudentCmd.Flags().StringVar(&markClass, "class", "", "class id (defaults to the student's roster class)")
	markStudentCmd.Flags().StringVar(&markSubject, "subject", "", "subject id for subject-wise attendance")
	markClassCmd.Flags().StringVar(&markSubject, "subject", "", "subject id for subject-wise attendance")

	markCmd.AddCommand(markMeCmd)
	markCmd.AddCommand(markStudentCmd)
	markCmd.AddCommand(markClassCmd)
	rootCmd.AddCommand(markCmd)
}
