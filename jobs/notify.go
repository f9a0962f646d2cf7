package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/hospital-it/helpdesk/internal/jobs"
	"github.com/hospital-it/helpdesk/internal/shared"
	"github.com/hospital-it/helpdesk/internal/tasks"
	"github.com/hospital-it/helpdesk/internal/tickets"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// SendEmailJob delivers mail:send tasks.
type SendEmailJob struct {
	Mailer  Mailer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle processes TaskTypeSendEmail tasks.
func (j *SendEmailJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.To == "" {
		return asynq.SkipRetry
	}
	tracker := metricsOr(j.Metrics).Track(TaskTypeSendEmail)
	defer func() { err = tracker.End(err) }()

	err = j.Mailer.Send(ctx, Message{To: payload.To, Subject: payload.Subject, Body: payload.Body})
	metricsOr(j.Metrics).NotificationSent("direct", err)
	if err != nil {
		loggerOr(j.Logger, TaskTypeSendEmail).Warn("send email", slog.String("to", payload.To), slog.Any("error", err))
	}
	return err
}

// AssignmentSource loads the data of an assignment email.
type AssignmentSource interface {
	AssignmentNotice(ctx context.Context, ticketID int64) (tickets.AssignmentNotice, error)
}

// TicketAssignedJob emails technicians about tickets assigned to them.
type TicketAssignedJob struct {
	Notices AssignmentSource
	Mailer  Mailer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	// BaseURL prefixes links in the email; links are omitted when empty.
	BaseURL string
}

type assignmentEmail struct {
	tickets.AssignmentNotice
	Link string
}

// Handle processes TaskTicketAssigned tasks.
func (j *TicketAssignedJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Notices == nil || j.Mailer == nil {
		return errors.New("ticket assigned: handler not configured")
	}
	var payload TicketAssignedPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.TicketID <= 0 {
		return asynq.SkipRetry
	}
	tracker := metricsOr(j.Metrics).Track(TaskTicketAssigned)
	defer func() { err = tracker.End(err) }()
	logger := loggerOr(j.Logger, TaskTicketAssigned).With(slog.Int64("ticket_id", payload.TicketID))

	notice, err := j.Notices.AssignmentNotice(ctx, payload.TicketID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			logger.Info("ticket gone or unassigned, skipping")
			return nil
		}
		return err
	}
	if notice.AssigneeEmail == "" {
		return nil
	}
	data := assignmentEmail{AssignmentNotice: notice}
	if j.BaseURL != "" {
		data.Link = fmt.Sprintf("%s/tickets/%d", strings.TrimRight(j.BaseURL, "/"), notice.TicketID)
	}
	err = j.Mailer.Send(ctx, Message{
		To:       notice.AssigneeEmail,
		Subject:  fmt.Sprintf("[Helpdesk] Ticket #%d assigned to you: %s", notice.TicketID, notice.Title),
		Template: emailTemplates.Lookup("ticket_assigned.html"),
		Data:     data,
	})
	metricsOr(j.Metrics).NotificationSent("ticket_assigned", err)
	if err != nil {
		logger.Warn("assignment email failed", slog.Any("error", err))
	}
	return err
}

// OverdueSource lists open tasks past due.
type OverdueSource interface {
	Overdue(ctx context.Context, now time.Time) ([]tasks.Task, error)
}

// Locker serialises scans across worker processes.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error)
}

const overdueScanLockTTL = 10 * time.Minute

// OverdueScanJob sends one reminder per assignee listing their overdue tasks.
// With a Lock only one worker scans at a time; the others skip the run.
type OverdueScanJob struct {
	Tasks   OverdueSource
	Mailer  Mailer
	Lock    Locker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	BaseURL string
	clock   func() time.Time
}

type overdueEmail struct {
	Name    string
	BaseURL string
	Tasks   []tasks.Task
}

// Handle processes TaskTasksOverdueScan tasks. A failed reminder does not stop
// the others; the first error is returned so the run is retried.
func (j *OverdueScanJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Tasks == nil || j.Mailer == nil {
		return errors.New("overdue scan: handler not configured")
	}
	var payload OverdueScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	logger := loggerOr(j.Logger, TaskTasksOverdueScan)
	if j.Lock != nil {
		release, ok, lockErr := j.Lock.Acquire(ctx, shared.OverdueScanLockKey, overdueScanLockTTL)
		if lockErr != nil {
			return fmt.Errorf("overdue scan lock: %w", lockErr)
		}
		if !ok {
			logger.Info("overdue scan already running elsewhere")
			return nil
		}
		defer func() {
			if relErr := release(context.WithoutCancel(ctx)); relErr != nil {
				logger.Warn("release overdue scan lock", slog.Any("error", relErr))
			}
		}()
	}
	tracker := metricsOr(j.Metrics).Track(TaskTasksOverdueScan)
	defer func() { err = tracker.End(err) }()

	cutoff := j.now().Add(-time.Duration(payload.GraceMinutes) * time.Minute)
	overdue, err := j.Tasks.Overdue(ctx, cutoff)
	if err != nil {
		logger.Error("overdue query failed", slog.Any("error", err))
		return err
	}
	metricsOr(j.Metrics).SetOverdueTasks(len(overdue))

	byAssignee := make(map[string]*overdueEmail)
	for _, task := range overdue {
		if task.AssigneeEmail == "" {
			continue
		}
		entry, ok := byAssignee[task.AssigneeEmail]
		if !ok {
			entry = &overdueEmail{Name: task.AssigneeName, BaseURL: strings.TrimRight(j.BaseURL, "/")}
			byAssignee[task.AssigneeEmail] = entry
		}
		entry.Tasks = append(entry.Tasks, task)
	}
	recipients := make([]string, 0, len(byAssignee))
	for email := range byAssignee {
		recipients = append(recipients, email)
	}
	sort.Strings(recipients)

	var firstErr error
	for _, email := range recipients {
		entry := byAssignee[email]
		sendErr := j.Mailer.Send(ctx, Message{
			To:       email,
			Subject:  fmt.Sprintf("[Helpdesk] %d overdue task(s)", len(entry.Tasks)),
			Template: emailTemplates.Lookup("task_overdue.html"),
			Data:     entry,
		})
		metricsOr(j.Metrics).NotificationSent("task_overdue", sendErr)
		if sendErr != nil {
			logger.Warn("overdue reminder failed", slog.String("to", email), slog.Any("error", sendErr))
			if firstErr == nil {
				firstErr = sendErr
			}
		}
	}
	logger.Info("overdue scan completed", slog.Int("overdue", len(overdue)), slog.Int("reminders", len(recipients)))
	return firstErr
}

func (j *OverdueScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

func metricsOr(m *jobmetrics.Metrics) *jobmetrics.Metrics {
	if m != nil {
		return m
	}
	return defaultJobMetrics
}

func loggerOr(l *slog.Logger, job string) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return l.With(slog.String("job", job))
}
