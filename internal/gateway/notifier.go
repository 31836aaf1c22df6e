package gateway

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"lipdub/internal/config"
	applog "lipdub/internal/logger"

	"gopkg.in/gomail.v2"
)

const (
	NotificationProviderSMTP = "smtp"
	NotificationProviderLog  = "log"
)

// Notification tells a customer their translated video is ready.
type Notification struct {
	Email         string
	UniqueCode    string
	TranslatedURL string
	Language      string
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

func NewNotifier(cfg config.NotificationConfig) (Notifier, error) {
	switch cfg.Provider {
	case NotificationProviderSMTP:
		n, err := NewSMTPNotifier(cfg)
		if err != nil {
			return nil, err
		}
		return n, nil
	case NotificationProviderLog, "":
		return &LogNotifier{}, nil
	default:
		return nil, fmt.Errorf("%w: notification %q", ErrUnknownProvider, cfg.Provider)
	}
}

type emailData struct {
	AppName   string
	Title     string
	Intro     string
	ButtonURL string
	ButtonTxt string
	Year      int
}

const readyHTMLTemplate = `<!doctype html>
<html>
<head><meta charset="UTF-8"><title>{{.Title}}</title></head>
<body style="margin:0;padding:32px 16px;background:#f1f5f9;font-family:Helvetica,Arial,sans-serif;color:#0f172a;">
  <div style="max-width:600px;margin:0 auto;background:#ffffff;border-radius:12px;padding:32px;">
    <div style="font-weight:700;color:#2563eb;text-transform:uppercase;">{{.AppName}}</div>
    <h1 style="font-size:24px;">{{.Title}}</h1>
    <p style="line-height:1.6;color:#475569;">{{.Intro}}</p>
    {{if .ButtonURL}}
    <p><a href="{{.ButtonURL}}" style="display:inline-block;padding:14px 28px;background:#2563eb;color:#ffffff;text-decoration:none;border-radius:8px;">{{.ButtonTxt}}</a></p>
    <p style="font-size:13px;color:#64748b;">If the button doesn't work, open this link: <a href="{{.ButtonURL}}">{{.ButtonURL}}</a></p>
    {{end}}
  </div>
  <p style="text-align:center;font-size:12px;color:#94a3b8;">&copy; {{.Year}} {{.AppName}}</p>
</body>
</html>`

const readyTextTemplate = `{{.Title}}

{{.Intro}}
{{if .ButtonURL}}
{{.ButtonURL}}
{{end}}
{{.AppName}} (c) {{.Year}}
`

// SMTPNotifier sends the "translation ready" email through gomail.
type SMTPNotifier struct {
	cfg    config.NotificationConfig
	html   *template.Template
	text   *template.Template
	dialer *gomail.Dialer
	send   func(m *gomail.Message) error
}

func NewSMTPNotifier(cfg config.NotificationConfig) (*SMTPNotifier, error) {
	if cfg.SMTPHost == "" || cfg.From == "" {
		return nil, fmt.Errorf("notification: smtp_host and from are required")
	}
	n := &SMTPNotifier{
		cfg:    cfg,
		html:   template.Must(template.New("ready.html").Parse(readyHTMLTemplate)),
		text:   template.Must(template.New("ready.txt").Parse(readyTextTemplate)),
		dialer: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword),
	}
	n.send = func(m *gomail.Message) error { return n.dialer.DialAndSend(m) }
	return n, nil
}

func (s *SMTPNotifier) Notify(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m, err := s.buildMessage(n)
	if err != nil {
		return err
	}
	return s.send(m)
}

func (s *SMTPNotifier) buildMessage(n Notification) (*gomail.Message, error) {
	data := emailData{
		AppName:   s.cfg.AppName,
		Title:     "Your translated video is ready",
		Intro:     fmt.Sprintf("Your lip-synced video in %s has finished processing. Order reference: %s.", strings.ToUpper(n.Language), n.UniqueCode),
		ButtonURL: n.TranslatedURL,
		ButtonTxt: "Download video",
		Year:      time.Now().Year(),
	}

	var html, text bytes.Buffer
	if err := s.html.Execute(&html, data); err != nil {
		return nil, fmt.Errorf("render email: %w", err)
	}
	if err := s.text.Execute(&text, data); err != nil {
		return nil, fmt.Errorf("render email: %w", err)
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.cfg.From, s.cfg.FromName)
	m.SetHeader("To", n.Email)
	m.SetHeader("Subject", data.Title)
	m.SetBody("text/plain", text.String())
	m.AddAlternative("text/html", html.String())
	return m, nil
}

// LogNotifier writes notifications to the app log.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, n Notification) error {
	applog.WithContext(ctx).WithField("module", "notifier").
		WithField("email", n.Email).
		WithField("uniquecode", n.UniqueCode).
		WithField("translated_url", n.TranslatedURL).
		Info("translation ready notification")
	return nil
}
