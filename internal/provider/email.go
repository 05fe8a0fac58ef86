package provider

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"

	"github.com/eci-platform/notifyd/internal/config"
	"github.com/eci-platform/notifyd/internal/domain"
)

// EmailProvider delivers over SMTP. Error classification follows SMTP
// semantics: 4xx replies are transient, 5xx replies are rejections.
type EmailProvider struct {
	host     string
	port     string
	username string
	password string
	from     string
}

func NewEmailProvider(cfg config.SMTPConfig) *EmailProvider {
	return &EmailProvider{
		host:     cfg.Host,
		port:     cfg.Port,
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.From,
	}
}

func (p *EmailProvider) Channel() domain.Channel {
	return domain.ChannelEmail
}

func (p *EmailProvider) Send(ctx context.Context, msg Message) Result {
	if p.host == "" {
		return Result{Status: StatusRetryable, Detail: "smtp host not configured"}
	}
	from := p.from
	if from == "" {
		from = p.username
	}
	if from == "" {
		return Result{Status: StatusRetryable, Detail: "smtp from not configured"}
	}
	if !strings.Contains(msg.Recipient, "@") {
		return Result{Status: StatusPermanent, Detail: fmt.Sprintf("invalid email recipient %q", msg.Recipient)}
	}

	if err := p.send(ctx, from, msg); err != nil {
		return classifySMTPError(err)
	}
	return Result{Status: StatusSuccess, Code: 250}
}

func (p *EmailProvider) send(ctx context.Context, from string, msg Message) error {
	addr := net.JoinHostPort(p.host, p.port)

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, p.host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: p.host}); err != nil {
			return err
		}
	}
	if p.username != "" || p.password != "" {
		if err := c.Auth(smtp.PlainAuth("", p.username, p.password, p.host)); err != nil {
			return err
		}
	}

	if err := c.Mail(from); err != nil {
		return err
	}
	if err := c.Rcpt(msg.Recipient); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}

	headers := []string{
		fmt.Sprintf("From: %s", from),
		fmt.Sprintf("To: %s", msg.Recipient),
		fmt.Sprintf("Subject: %s", msg.Subject),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
	}
	data := strings.Join(headers, "\r\n") + "\r\n\r\n" + msg.Body

	if _, err := w.Write([]byte(data)); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func classifySMTPError(err error) Result {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		if tpErr.Code >= 400 && tpErr.Code < 500 {
			return Result{Status: StatusRetryable, Code: tpErr.Code, Detail: tpErr.Msg}
		}
		return Result{Status: StatusPermanent, Code: tpErr.Code, Detail: tpErr.Msg}
	}
	// Dial failures, timeouts and connection drops are all transient.
	return Result{Status: StatusRetryable, Detail: err.Error()}
}
