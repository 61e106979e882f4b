package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conorfennell/duedeck/internal/coursematch"
	"github.com/conorfennell/duedeck/internal/domain"
	"github.com/conorfennell/duedeck/internal/sync"
	"github.com/conorfennell/duedeck/internal/web"
)

func serveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := &http.Server{
				Addr:              a.cfg.HTTP.Addr,
				Handler:           web.NewServer(a.db, a.syncer, a.syllabi, a.rules),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errc := make(chan error, 1)
			go func() {
				slog.Info("Listening", "addr", srv.Addr)
				errc <- srv.ListenAndServe()
			}()

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}
			slog.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("failed to shut down: %w", err)
			}
			if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
}

func userCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage users"}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <email>",
		Short: "Create a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := a.db.CreateUser(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, user)
		},
	})
	return cmd
}

func connectCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "connect", Short: "Store a verified credential for a platform"}

	lmsCmd := &cobra.Command{
		Use:   "lms <user-id>",
		Short: "Connect the LMS with a token, or a username and password",
		Long:  "Connect the LMS. The token is read from " + lmsTokenEnv + " or the first line of stdin. With --username the password is read from " + lmsPasswordEnv + " or stdin, exchanged for a token and not stored.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username, _ := cmd.Flags().GetString("username")
			if username != "" {
				password, err := readSecret(cmd, lmsPasswordEnv)
				if err != nil {
					return err
				}
				return a.syncer.ConnectLMSWithPassword(cmd.Context(), args[0], username, password)
			}
			token, err := readSecret(cmd, lmsTokenEnv)
			if err != nil {
				return err
			}
			return a.syncer.ConnectLMS(cmd.Context(), args[0], token)
		},
	}
	lmsCmd.Flags().String("username", "", "LMS username; the password is exchanged for a token")

	gradingCmd := &cobra.Command{
		Use:   "grading <user-id>",
		Short: "Connect the grading platform with the account password",
		Long:  "Connect the grading platform. The password is read from " + gradingPasswordEnv + ", or from the first line of stdin.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readSecret(cmd, gradingPasswordEnv)
			if err != nil {
				return err
			}
			return a.syncer.ConnectGrading(cmd.Context(), args[0], password)
		},
	}

	cmd.AddCommand(lmsCmd, gradingCmd)
	return cmd
}

const (
	lmsTokenEnv        = "DUEDECK_LMS_TOKEN"
	lmsPasswordEnv     = "DUEDECK_LMS_PASSWORD"
	gradingPasswordEnv = "DUEDECK_GRADING_PASSWORD"
)

var errNoSecret = errors.New("no credential given")

// readSecret takes a credential from env, falling back to the first line of
// stdin. Credentials never come from flags, which end up in argv.
func readSecret(cmd *cobra.Command, env string) (string, error) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		return v, nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read credential: %w", err)
	}
	if line = strings.TrimSpace(line); line == "" {
		return "", fmt.Errorf("%w: set %s or pipe it on stdin", errNoSecret, env)
	}
	return line, nil
}

func disconnectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "disconnect <user-id> <lms|grading>",
		Short:     "Drop the stored credential for a platform",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{string(sync.ProviderLMS), string(sync.ProviderGrading)},
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := sync.ParseProvider(args[1])
			if err != nil {
				return err
			}
			return a.syncer.Disconnect(cmd.Context(), args[0], p)
		},
	}
}

func syncCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "sync", Short: "Run a sync for one user"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "lms <user-id>",
			Short: "Sync courses, assignments, quizzes and grades from the LMS",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				summary, err := a.syncer.SyncLMS(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, summary)
			},
		},
		&cobra.Command{
			Use:   "grading <user-id>",
			Short: "Scrape assignments from the grading platform",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				summary, err := a.syncer.SyncGrading(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, summary)
			},
		},
	)
	return cmd
}

func coursesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "courses <user-id>",
		Short: "List a user's courses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			courses, err := a.db.ListCourses(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, coursematch.WithLabels(courses))
		},
	}
}

func assignmentsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assignments <user-id>",
		Short: "List a user's assignments by due date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var f domain.AssignmentFilter
			status, _ := cmd.Flags().GetString("status")
			f.Status = domain.Status(status)
			f.CourseID, _ = cmd.Flags().GetString("course")
			f.DueBefore, _ = cmd.Flags().GetString("due-before")
			f.DueAfter, _ = cmd.Flags().GetString("due-after")

			rows, err := a.db.ListAssignments(cmd.Context(), args[0], f)
			if err != nil {
				return err
			}
			return printJSON(cmd, rows)
		},
	}
	cmd.Flags().String("status", "", "Only rows in this status")
	cmd.Flags().String("course", "", "Only rows of this course id")
	cmd.Flags().String("due-before", "", "Only rows due on or before this YYYY-MM-DD date")
	cmd.Flags().String("due-after", "", "Only rows due on or after this YYYY-MM-DD date")
	return cmd
}

func syllabusCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "syllabus", Short: "Upload and ingest course syllabi"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "upload <user-id> <course-id> <file.pdf>",
			Short: "Store a syllabus document in the course's slot",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				document, err := os.ReadFile(args[2])
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", args[2], err)
				}
				syl, err := a.syllabi.Upload(cmd.Context(), args[0], args[1], document)
				if err != nil {
					return err
				}
				return printJSON(cmd, syl)
			},
		},
		&cobra.Command{
			Use:   "ingest <user-id> <syllabus-id>",
			Short: "Extract assignments from an uploaded syllabus",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				summary, err := a.syllabi.Ingest(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(cmd, summary)
			},
		},
	)
	return cmd
}

func ruleCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "rule", Short: "Manage recurring assignment rules"}

	addCmd := &cobra.Command{
		Use:   "add <user-id>",
		Short: "Create a weekly rule and generate its assignments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			r := domain.RecurringRule{UserID: args[0]}
			r.CourseID, _ = flags.GetString("course")
			r.Title, _ = flags.GetString("title")
			r.DayOfWeek, _ = flags.GetInt("day")
			kind, _ := flags.GetString("type")
			r.Type = domain.AssignmentType(kind)
			platform, _ := flags.GetString("platform")
			r.Platform = domain.Platform(platform)
			r.StartDate, _ = flags.GetString("start")
			r.EndDate, _ = flags.GetString("end")

			stored, n, err := a.rules.Create(cmd.Context(), r)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"rule": stored, "generated": n})
		},
	}
	addCmd.Flags().String("course", "", "Course id")
	addCmd.Flags().String("title", "", "Title of every generated assignment")
	addCmd.Flags().Int("day", 1, "Day of week, 0 is Sunday")
	addCmd.Flags().String("type", string(domain.TypeHomework), "Assignment type")
	addCmd.Flags().String("platform", string(domain.PlatformUnknown), "Submission platform")
	addCmd.Flags().String("start", "", "First date, YYYY-MM-DD")
	addCmd.Flags().String("end", "", "Last date, YYYY-MM-DD")

	listCmd := &cobra.Command{
		Use:   "list <user-id>",
		Short: "List a user's rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := a.rules.List(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, rules)
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <user-id> <rule-id>",
		Short: "Delete a rule and every assignment it generated",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := a.rules.Delete(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("rule %s not found", args[1])
			}
			return nil
		},
	}

	cmd.AddCommand(addCmd, listCmd, deleteCmd)
	return cmd
}
