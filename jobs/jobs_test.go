package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/hospital-it/helpdesk/internal/jobs"
	"github.com/hospital-it/helpdesk/internal/shared"
	"github.com/hospital-it/helpdesk/internal/tasks"
	"github.com/hospital-it/helpdesk/internal/tickets"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent []Message
	fail map[string]error
}

func (m *fakeMailer) Send(ctx context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail[msg.To]; err != nil {
		return err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func render(t *testing.T, msg Message) string {
	t.Helper()
	require.NotNil(t, msg.Template)
	var buf bytes.Buffer
	require.NoError(t, msg.Template.Execute(&buf, msg.Data))
	return buf.String()
}

func testMetrics() *jobmetrics.Metrics {
	return jobmetrics.NewMetrics(prometheus.NewRegistry())
}

type noticeSource map[int64]tickets.AssignmentNotice

func (s noticeSource) AssignmentNotice(ctx context.Context, id int64) (tickets.AssignmentNotice, error) {
	n, ok := s[id]
	if !ok {
		return tickets.AssignmentNotice{}, shared.ErrNotFound
	}
	return n, nil
}

func TestTicketAssignedSendsEmail(t *testing.T) {
	mailer := &fakeMailer{}
	job := &TicketAssignedJob{
		Notices: noticeSource{7: {TicketID: 7, Title: "PACS viewer frozen", Priority: tickets.PriorityHigh, AssigneeName: "sam", AssigneeEmail: "sam@hospital.test", RequesterName: "ward4"}},
		Mailer:  mailer,
		Metrics: testMetrics(),
		BaseURL: "https://helpdesk.hospital.test/",
	}
	task, err := NewTicketAssignedTask(7)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, mailer.sent, 1)
	msg := mailer.sent[0]
	assert.Equal(t, "sam@hospital.test", msg.To)
	assert.Contains(t, msg.Subject, "#7")
	body := render(t, msg)
	assert.Contains(t, body, "PACS viewer frozen")
	assert.Contains(t, body, "https://helpdesk.hospital.test/tickets/7")
}

func TestTicketAssignedSkipsMissingTicket(t *testing.T) {
	mailer := &fakeMailer{}
	job := &TicketAssignedJob{Notices: noticeSource{}, Mailer: mailer, Metrics: testMetrics()}
	task, _ := NewTicketAssignedTask(99)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Empty(t, mailer.sent)

	err := job.Handle(context.Background(), asynq.NewTask(TaskTicketAssigned, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

type busyLock struct{ held bool }

func (l *busyLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	if l.held {
		return nil, false, nil
	}
	l.held = true
	return func(context.Context) error { l.held = false; return nil }, true, nil
}

func TestOverdueScanSkipsWhileLocked(t *testing.T) {
	due := time.Now().Add(-time.Hour)
	src := &overdueSource{tasks: []tasks.Task{{ID: 1, Title: "Patch switch", AssigneeEmail: "alex@hospital.test", DueAt: &due}}}
	mailer := &fakeMailer{}
	lock := &busyLock{held: true}
	job := &OverdueScanJob{Tasks: src, Mailer: mailer, Lock: lock, Metrics: testMetrics()}

	task, err := NewOverdueScanTask(OverdueScanPayload{})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Empty(t, mailer.sent)

	lock.held = false
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Len(t, mailer.sent, 1)
	assert.False(t, lock.held, "lock is released after the run")
}

type overdueSource struct {
	tasks []tasks.Task
	at    time.Time
}

func (s *overdueSource) Overdue(ctx context.Context, now time.Time) ([]tasks.Task, error) {
	s.at = now
	return s.tasks, nil
}

func TestOverdueScanGroupsByAssignee(t *testing.T) {
	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	due := now.Add(-48 * time.Hour)
	src := &overdueSource{tasks: []tasks.Task{
		{ID: 1, Title: "Replace UPS battery", AssigneeName: "sam", AssigneeEmail: "sam@hospital.test", DueAt: &due, Status: tasks.StatusPending},
		{ID: 2, Title: "Image ward laptops", AssigneeName: "sam", AssigneeEmail: "sam@hospital.test", DueAt: &due, Status: tasks.StatusInProgress},
		{ID: 3, Title: "Patch switch", AssigneeName: "alex", AssigneeEmail: "alex@hospital.test", DueAt: &due, Status: tasks.StatusPending},
		{ID: 4, Title: "Unassigned", DueAt: &due, Status: tasks.StatusPending},
	}}
	mailer := &fakeMailer{fail: map[string]error{"alex@hospital.test": errors.New("mailbox full")}}
	job := &OverdueScanJob{Tasks: src, Mailer: mailer, Metrics: testMetrics(), clock: func() time.Time { return now }}

	task, err := NewOverdueScanTask(OverdueScanPayload{GraceMinutes: 30})
	require.NoError(t, err)
	err = job.Handle(context.Background(), task)
	require.Error(t, err, "failed reminders make the run retry")
	assert.Equal(t, now.Add(-30*time.Minute), src.at)

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "sam@hospital.test", mailer.sent[0].To)
	assert.Contains(t, mailer.sent[0].Subject, "2 overdue")
	body := render(t, mailer.sent[0])
	assert.Contains(t, body, "Replace UPS battery")
	assert.Contains(t, body, "Image ward laptops")
	assert.NotContains(t, body, "Patch switch")
}

func TestSendEmailJob(t *testing.T) {
	mailer := &fakeMailer{}
	job := &SendEmailJob{Mailer: mailer, Metrics: testMetrics()}

	task, _ := NewSendEmailTask(SendEmailPayload{To: "it@hospital.test", Subject: "Hi", Body: "<p>x</p>"})
	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "<p>x</p>", mailer.sent[0].Body)

	task, _ = NewSendEmailTask(SendEmailPayload{Subject: "no recipient"})
	assert.ErrorIs(t, job.Handle(context.Background(), task), asynq.SkipRetry)
}

func TestLogMailerIsUsedWithoutSMTPHost(t *testing.T) {
	m, err := NewMailer(SMTPConfig{}, nil)
	require.NoError(t, err)
	_, ok := m.(LogMailer)
	assert.True(t, ok)
	assert.Error(t, m.Send(context.Background(), Message{}))
	assert.NoError(t, m.Send(context.Background(), Message{To: "a@b.test"}))
}

func TestBuildMsgRendersTemplate(t *testing.T) {
	msg, err := buildMsg("helpdesk@hospital.test", Message{
		To:       "sam@hospital.test",
		Subject:  "Assigned",
		Template: emailTemplates.Lookup("ticket_assigned.html"),
		Data:     assignmentEmail{AssignmentNotice: tickets.AssignmentNotice{TicketID: 3, Title: "Badge reader"}},
	})
	require.NoError(t, err)
	var buf bytes.Buffer
	_, err = msg.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Badge reader")

	_, err = buildMsg("helpdesk@hospital.test", Message{Subject: "x"})
	assert.Error(t, err)
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

func TestClientNotifyTicketAssigned(t *testing.T) {
	enq := &fakeEnqueuer{}
	client := NewClientWith(enq)
	require.NoError(t, client.NotifyTicketAssigned(context.Background(), 42))
	require.Len(t, enq.tasks, 1)
	assert.Equal(t, TaskTicketAssigned, enq.tasks[0].Type())
	var payload TicketAssignedPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	assert.Equal(t, int64(42), payload.TicketID)

	enq.err = asynq.ErrDuplicateTask
	assert.NoError(t, client.NotifyTicketAssigned(context.Background(), 42))
	enq.err = errors.New("redis down")
	assert.Error(t, client.NotifyTicketAssigned(context.Background(), 42))
}

type fakeInspector map[string]*asynq.QueueInfo

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	info, ok := f[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return info, nil
}

func TestHealthHandler(t *testing.T) {
	h := NewHandler(fakeInspector{QueueMail: {Queue: QueueMail, Pending: 3, Failed: 1}}, nil)
	r := chi.NewRouter()
	r.Route("/jobs", h.MountRoutes)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Queues []queueHealth `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Queues, 2)
	assert.Equal(t, queueHealth{Queue: QueueMail, Pending: 3, Failed: 1}, body.Queues[0])
	assert.Equal(t, queueHealth{Queue: QueueDefault}, body.Queues[1])
}

type keyCleaner struct{ olderThan time.Duration }

func (k *keyCleaner) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	k.olderThan = olderThan
	return 3, nil
}

func TestIdempotencyCleanupUsesRetention(t *testing.T) {
	keys := &keyCleaner{}
	job := &IdempotencyCleanupJob{Keys: keys, Metrics: testMetrics()}

	task, err := NewIdempotencyCleanupTask(24 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 24*time.Hour, keys.olderThan)

	task, err = NewIdempotencyCleanupTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 72*time.Hour, keys.olderThan)
}
