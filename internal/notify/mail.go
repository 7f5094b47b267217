package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// Mailer sends a plain-text email to a single recipient.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPConfig configures SMTPMailer.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// StartTLS upgrades the session when the server offers it.
	StartTLS bool
	Timeout  time.Duration
}

// SMTPMailer delivers mail through an SMTP relay.
type SMTPMailer struct {
	addr     string
	host     string
	from     string
	auth     smtp.Auth
	startTLS bool
	timeout  time.Duration
	now      func() time.Time
}

// NewSMTPMailer creates an SMTPMailer. PLAIN auth is used when a username is
// configured.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	m := &SMTPMailer{
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		host:     cfg.Host,
		from:     cfg.From,
		startTLS: cfg.StartTLS,
		timeout:  timeout,
		now:      time.Now,
	}
	if cfg.Username != "" {
		m.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return m
}

// Send dials the relay and runs one SMTP transaction. The context deadline,
// or the configured timeout, bounds the whole exchange.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	dialer := net.Dialer{Timeout: m.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", m.addr)
	if err != nil {
		return fmt.Errorf("smtp: dial %s: %w", m.addr, err)
	}
	deadline := time.Now().Add(m.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	c, err := smtp.NewClient(conn, m.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp: greeting: %w", err)
	}
	defer c.Close()

	if m.startTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: m.host}); err != nil {
				return fmt.Errorf("smtp: starttls: %w", err)
			}
		}
	}
	if m.auth != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(m.auth); err != nil {
				return fmt.Errorf("smtp: auth: %w", err)
			}
		}
	}

	if err := c.Mail(m.from); err != nil {
		return fmt.Errorf("smtp: mail from: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("smtp: rcpt %s: %w", to, err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp: data: %w", err)
	}
	if _, err := w.Write(m.message(to, subject, body)); err != nil {
		return fmt.Errorf("smtp: write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp: end data: %w", err)
	}
	return c.Quit()
}

func (m *SMTPMailer) message(to, subject, body string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", m.from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", m.now().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	buf.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	buf.WriteString("\r\n")
	return buf.Bytes()
}

// Render produces the subject and body addressed to the recipient of n.
func Render(n domain.Notification) (subject, body string) {
	switch n.Kind {
	case domain.NotifyWinner:
		return "You won " + n.ItemName,
			fmt.Sprintf("Congratulations! Your bid of %d won the auction for %s.", n.Amount, n.ItemName)
	case domain.NotifyLoser:
		return "Auction ended: " + n.ItemName,
			fmt.Sprintf("The auction for %s closed with a winning bid of %d. Your bid did not win.", n.ItemName, n.Amount)
	case domain.NotifyOutbid:
		return "You have been outbid on " + n.ItemName,
			fmt.Sprintf("A bid of %d was placed on %s. Place a higher bid to stay in the lead.", n.Amount, n.ItemName)
	default:
		return "Auction update: " + n.ItemName,
			fmt.Sprintf("There is news about %s.", n.ItemName)
	}
}
