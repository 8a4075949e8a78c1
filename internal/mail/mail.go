// Package mail sends order notices over SMTP.
package mail

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"sync"
	"text/template"
	"time"
)

// ErrInvalidMessage is returned for messages missing a sender, recipient, subject or body.
var ErrInvalidMessage = errors.New("mail: invalid message")

// Message is a plain-text email.
type Message struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Config configures the SMTP relay.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTP sends through a relay with STARTTLS when offered.
type SMTP struct {
	cfg         Config
	dialTimeout time.Duration
	now         func() time.Time
}

// NewSMTP returns an SMTP sender.
func NewSMTP(cfg Config) *SMTP {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTP{cfg: cfg, dialTimeout: 5 * time.Second, now: time.Now}
}

// From returns the configured sender address.
func (s *SMTP) From() string { return s.cfg.From }

// Send delivers msg. An empty msg.From uses the configured sender.
func (s *SMTP) Send(ctx context.Context, msg Message) error {
	if msg.From == "" {
		msg.From = s.cfg.From
	}
	raw, err := Build(msg, s.now())
	if err != nil {
		return err
	}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	dialer := &net.Dialer{Timeout: s.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("mail: dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("mail: handshake: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("mail: starttls: %w", err)
		}
	}
	if s.cfg.Username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)); err != nil {
				return fmt.Errorf("mail: auth: %w", err)
			}
		}
	}
	if err := c.Mail(msg.From); err != nil {
		return fmt.Errorf("mail: from: %w", err)
	}
	for _, rcpt := range msg.To {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("mail: rcpt %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("mail: data: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return fmt.Errorf("mail: write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("mail: data close: %w", err)
	}
	return c.Quit()
}

// Build renders msg as an RFC 5322 message.
func Build(msg Message, now time.Time) ([]byte, error) {
	if msg.From == "" || len(msg.To) == 0 || strings.TrimSpace(msg.Subject) == "" || msg.Body == "" {
		return nil, ErrInvalidMessage
	}
	for _, v := range append([]string{msg.From, msg.Subject}, msg.To...) {
		if strings.ContainsAny(v, "\r\n") {
			return nil, fmt.Errorf("%w: header contains a line break", ErrInvalidMessage)
		}
	}
	domain := "localhost"
	if _, d, ok := strings.Cut(msg.From, "@"); ok && d != "" {
		domain = strings.Trim(d, "<> ")
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "Date: %s\r\n", now.Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: %s\r\n", messageID(domain))
	fmt.Fprintf(&b, "From: %s\r\n", msg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(msg.Body, "\r\n", "\n"), "\n", "\r\n"))
	if !strings.HasSuffix(msg.Body, "\n") {
		b.WriteString("\r\n")
	}
	return b.Bytes(), nil
}

func messageID(domain string) string {
	buf := make([]byte, 12)
	_, _ = rand.Read(buf)
	return "<" + hex.EncodeToString(buf) + "@" + domain + ">"
}

// OrderNotice is the data of an order confirmation email. Labels arrive translated.
type OrderNotice struct {
	To         string
	Subject    string
	Greeting   string
	OrderLabel string
	OrderID    string
	Lines      []NoticeLine
	TotalLabel string
	Total      string
	ReceiptURL string
}

// NoticeLine is one product row.
type NoticeLine struct {
	Quantity    int
	Description string
	Amount      string
}

var noticeTmpl = template.Must(template.New("notice").Parse(`{{.Greeting}}

{{.OrderLabel}}: {{.OrderID}}
{{range .Lines}}
{{.Quantity}} x {{.Description}}  {{.Amount}}{{end}}

{{.TotalLabel}}: {{.Total}}
{{if .ReceiptURL}}
{{.ReceiptURL}}
{{end}}`))

// Message renders the notice.
func (n OrderNotice) Message(from string) (Message, error) {
	var body bytes.Buffer
	if err := noticeTmpl.Execute(&body, n); err != nil {
		return Message{}, fmt.Errorf("mail: render notice: %w", err)
	}
	return Message{From: from, To: []string{n.To}, Subject: n.Subject, Body: body.String()}, nil
}

// Recorder keeps messages in memory. It is the sender used when no relay is configured.
type Recorder struct {
	mu   sync.Mutex
	sent []Message
}

// Send records msg.
func (r *Recorder) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

// Sent returns the recorded messages.
func (r *Recorder) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.sent...)
}
