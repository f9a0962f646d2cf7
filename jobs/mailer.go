package jobs

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"

	"github.com/wneessen/go-mail"
)

//go:embed emails/*.html
var emailFS embed.FS

var emailTemplates = template.Must(template.ParseFS(emailFS, "emails/*.html"))

// Message is one outgoing email. Template, when set, renders the HTML body
// from Data; otherwise Body is sent as HTML.
type Message struct {
	To       string
	Subject  string
	Body     string
	Template *template.Template
	Data     any
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig configures outgoing mail.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// NewMailer returns an SMTP mailer, or a mailer that only logs when no SMTP
// host is configured.
func NewMailer(cfg SMTPConfig, logger *slog.Logger) (Mailer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Host == "" {
		return LogMailer{Logger: logger}, nil
	}
	opts := []mail.Option{mail.WithTLSPolicy(mail.TLSOpportunistic)}
	if cfg.Port > 0 {
		opts = append(opts, mail.WithPort(cfg.Port))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("jobs: smtp client: %w", err)
	}
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	return &SMTPMailer{client: client, from: from}, nil
}

// SMTPMailer sends through go-mail.
type SMTPMailer struct {
	client *mail.Client
	from   string
}

// Send implements Mailer.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	out, err := buildMsg(m.from, msg)
	if err != nil {
		return err
	}
	return m.client.DialAndSendWithContext(ctx, out)
}

func buildMsg(from string, msg Message) (*mail.Msg, error) {
	if msg.To == "" {
		return nil, errors.New("jobs: message without recipient")
	}
	out := mail.NewMsg()
	if err := out.From(from); err != nil {
		return nil, fmt.Errorf("jobs: from address: %w", err)
	}
	if err := out.To(msg.To); err != nil {
		return nil, fmt.Errorf("jobs: to address: %w", err)
	}
	out.Subject(msg.Subject)
	if msg.Template != nil {
		if err := out.SetBodyHTMLTemplate(msg.Template, msg.Data); err != nil {
			return nil, fmt.Errorf("jobs: render %s: %w", msg.Template.Name(), err)
		}
		return out, nil
	}
	out.SetBodyString(mail.TypeTextHTML, msg.Body)
	return out, nil
}

// LogMailer logs messages instead of sending them.
type LogMailer struct {
	Logger *slog.Logger
}

// Send implements Mailer.
func (m LogMailer) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return errors.New("jobs: message without recipient")
	}
	m.Logger.Info("email (smtp disabled)", slog.String("to", msg.To), slog.String("subject", msg.Subject))
	return nil
}
