package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueMail carries outgoing notifications.
	QueueMail = "mail"

	// TaskTypeSendEmail sends a prepared email.
	TaskTypeSendEmail = "mail:send"
	// TaskTicketAssigned emails the new assignee of a ticket.
	TaskTicketAssigned = "tickets:assigned"
	// TaskTasksOverdueScan reminds assignees of overdue tasks.
	TaskTasksOverdueScan = "tasks:overdue_scan"
	// TaskIdempotencyCleanup purges expired API idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TicketAssignedPayload identifies the assigned ticket. Recipient details are
// loaded when the job runs so a later reassignment wins.
type TicketAssignedPayload struct {
	TicketID int64 `json:"ticket_id"`
}

// OverdueScanPayload tunes the overdue scan.
type OverdueScanPayload struct {
	// GraceMinutes delays reminders past the due time.
	GraceMinutes int `json:"grace_minutes"`
}

// IdempotencyCleanupPayload sets how long keys are kept.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	return newTask(TaskTypeSendEmail, payload)
}

// NewTicketAssignedTask constructs an Asynq task.
func NewTicketAssignedTask(ticketID int64) (*asynq.Task, error) {
	return newTask(TaskTicketAssigned, TicketAssignedPayload{TicketID: ticketID})
}

// NewOverdueScanTask constructs an Asynq task.
func NewOverdueScanTask(payload OverdueScanPayload) (*asynq.Task, error) {
	return newTask(TaskTasksOverdueScan, payload)
}

// NewIdempotencyCleanupTask constructs an Asynq task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	return newTask(TaskIdempotencyCleanup, IdempotencyCleanupPayload{Retention: retention})
}

func newTask(typ string, payload any) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typ, data), nil
}
