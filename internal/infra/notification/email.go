package notification

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// EmailClient implements the Client interface for email notifications via SMTP.
type EmailClient struct {
	config  EmailConfig
	timeout time.Duration
}

// EmailConfig holds the SMTP configuration.
type EmailConfig struct {
	SMTPHost    string   // SMTP server host
	SMTPPort    int      // SMTP server port (25, 465, 587)
	Username    string   // SMTP username
	Password    string   // SMTP password
	FromEmail   string   // Sender email address
	FromName    string   // Sender display name
	ToEmails    []string // Recipient email addresses
	UseTLS      bool     // Use direct TLS (port 465)
	UseSTARTTLS bool     // Use STARTTLS (port 587)
	SkipVerify  bool     // Skip TLS certificate verification (dev only)
}

// NewEmailClient creates a new email notification client.
func NewEmailClient(config Config) (*EmailClient, error) {
	emailConfig := config.Email
	if emailConfig == nil {
		return nil, fmt.Errorf("email config is required")
	}
	if emailConfig.SMTPHost == "" {
		return nil, fmt.Errorf("SMTP host is required")
	}
	if emailConfig.SMTPPort == 0 {
		return nil, fmt.Errorf("SMTP port is required")
	}
	if emailConfig.FromEmail == "" {
		return nil, fmt.Errorf("sender email is required")
	}
	if len(emailConfig.ToEmails) == 0 {
		return nil, fmt.Errorf("at least one recipient email is required")
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &EmailClient{
		config:  *emailConfig,
		timeout: timeout,
	}, nil
}

// Provider returns the provider name.
func (c *EmailClient) Provider() string {
	return string(ProviderEmail)
}

// Send sends a notification email.
func (c *EmailClient) Send(ctx context.Context, msg Message) (*SendResult, error) {
	message, err := c.buildMIME(msg)
	if err != nil {
		return nil, err
	}

	if err := c.sendSMTP(ctx, message); err != nil {
		return &SendResult{
			Success: false,
			Error:   fmt.Sprintf("send email: %v", err),
		}, nil
	}

	return &SendResult{Success: true}, nil
}

// TestConnection tests the SMTP configuration.
func (c *EmailClient) TestConnection(ctx context.Context) (*SendResult, error) {
	return c.Send(ctx, Message{
		Title:    "Vigilis Test Notification",
		Body:     "Email alerts are configured.",
		Severity: SeverityLow,
	})
}

func (c *EmailClient) buildMIME(msg Message) ([]byte, error) {
	htmlBody, err := renderEmailHTML(msg)
	if err != nil {
		return nil, fmt.Errorf("build email body: %w", err)
	}

	subject := msg.Title
	if msg.Severity != "" {
		subject = fmt.Sprintf("[%s] %s", strings.ToUpper(msg.Severity), msg.Title)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s <%s>\r\n", c.config.FromName, c.config.FromEmail)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(c.config.ToEmails, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", stripCRLF(subject))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	buf.WriteString("\r\n")
	buf.WriteString(htmlBody)
	return buf.Bytes(), nil
}

// sendSMTP delivers message, honouring ctx for the dial.
func (c *EmailClient) sendSMTP(ctx context.Context, message []byte) error {
	addr := net.JoinHostPort(c.config.SMTPHost, strconv.Itoa(c.config.SMTPPort))

	tlsConfig := &tls.Config{
		ServerName:         c.config.SMTPHost,
		InsecureSkipVerify: c.config.SkipVerify, //nolint:gosec // Configurable for dev environments
	}

	dialer := &net.Dialer{Timeout: c.timeout}
	var conn net.Conn
	var err error
	if c.config.UseTLS {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: tlsConfig}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = conn.Close() }()
	_ = conn.SetDeadline(time.Now().Add(c.timeout))

	client, err := smtp.NewClient(conn, c.config.SMTPHost)
	if err != nil {
		return fmt.Errorf("new SMTP client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if c.config.UseSTARTTLS && !c.config.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err = client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("STARTTLS: %w", err)
			}
		}
	}

	if c.config.Username != "" && c.config.Password != "" {
		auth := smtp.PlainAuth("", c.config.Username, c.config.Password, c.config.SMTPHost)
		if err = client.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err = client.Mail(c.config.FromEmail); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, to := range c.config.ToEmails {
		if err = client.Rcpt(to); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", to, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err = w.Write(message); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}

	_ = client.Quit()
	return nil
}

func stripCRLF(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}

var emailTemplate = template.Must(template.New("alert").Parse(emailHTMLTemplate))

func renderEmailHTML(msg Message) (string, error) {
	data := struct {
		Message
		SeverityLabel string
		Color         string
		Timestamp     string
	}{
		Message:       msg,
		SeverityLabel: strings.ToUpper(msg.Severity),
		Color:         GetSeverityColor(msg.Severity),
		Timestamp:     time.Now().UTC().Format("2006-01-02 15:04:05 MST"),
	}

	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return buf.String(), nil
}

const emailHTMLTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>{{.Title}}</title></head>
<body style="font-family: Arial, sans-serif; color: #333;">
  <div style="max-width: 600px; margin: 20px auto; border: 1px solid #eee;">
    <div style="background: {{.Color}}; color: #fff; padding: 16px;">
      {{if .SeverityLabel}}<div style="font-size: 12px; font-weight: bold;">{{.SeverityLabel}}</div>{{end}}
      <h1 style="margin: 0; font-size: 20px;">{{.Title}}</h1>
    </div>
    <div style="padding: 16px;">
      {{if .Body}}<p style="white-space: pre-wrap;">{{.Body}}</p>{{end}}
      {{range .Fields}}<p><strong>{{.Name}}:</strong> {{.Value}}</p>{{end}}
    </div>
    <div style="background: #f8f9fa; padding: 12px 16px; font-size: 12px; color: #666;">
      {{if .FooterText}}{{.FooterText}}<br>{{end}}Sent by Vigilis at {{.Timestamp}}
    </div>
  </div>
</body>
</html>`
