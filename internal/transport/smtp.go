package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"net"
	"net/textproto"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/foxzi/lanes/internal/attachments"
)

// RecipientHeader carries the signed recipient token in outbound mail.
// Bounce reconciliation scans returned bodies for it.
const RecipientHeader = "X-Mailanes-Recipient"

// SMTPConfig locates the smarthost outbound mail is relayed through.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Hostname string `yaml:"hostname"` // HELO name
	From     string `yaml:"from"`     // fallback sender address

	DKIM DKIMConfig `yaml:"dkim"`
}

type DKIMConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Domain   string `yaml:"domain"`
	Selector string `yaml:"selector"`
	KeyFile  string `yaml:"key_file"`
}

// SMTP relays rendered letters through a configured smarthost.
type SMTP struct {
	cfg         SMTPConfig
	signer      *Signer
	attachments *attachments.Store
	logger      *slog.Logger
}

func NewSMTP(cfg SMTPConfig, store *attachments.Store, logger *slog.Logger) (*SMTP, error) {
	t := &SMTP{
		cfg:         cfg,
		attachments: store,
		logger:      logger.With("component", "smtp_transport"),
	}
	if cfg.DKIM.Enabled {
		signer, err := NewSignerFromFile(cfg.DKIM.KeyFile, cfg.DKIM.Domain, cfg.DKIM.Selector)
		if err != nil {
			return nil, err
		}
		t.signer = signer
		logger.Info("DKIM signing enabled", "domain", cfg.DKIM.Domain, "selector", cfg.DKIM.Selector)
	}
	return t, nil
}

func (t *SMTP) Send(ctx context.Context, job *Job) (string, error) {
	from := job.From
	if from == "" {
		from = t.cfg.From
	}
	if from == "" {
		return "", fmt.Errorf("no sender address configured for letter #%d", job.Letter.ID)
	}

	msg, err := t.buildMessage(from, job)
	if err != nil {
		return "", err
	}
	if t.signer != nil {
		if msg, err = t.signer.Sign(msg); err != nil {
			return "", err
		}
	}

	if err := t.relay(ctx, from, job.Recipient.Email, msg); err != nil {
		return "", err
	}

	t.logger.Debug("relayed", "to", job.Recipient.Email, "delivery", job.DeliveryID)
	return fmt.Sprintf("sent %q to %s via %s", job.Subject, job.Recipient.Email, t.cfg.Host), nil
}

// relay mirrors a plain smarthost submission: dial with a deadline,
// opportunistic STARTTLS, PLAIN auth when credentials are configured.
func (t *SMTP) relay(ctx context.Context, from, to string, msg []byte) error {
	addr := net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connection failed to %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(30 * time.Second))
	}

	client := smtp.NewClient(conn)
	defer client.Close()

	hostname := t.cfg.Hostname
	if hostname == "" {
		hostname = "localhost"
	}
	if err := client.Hello(hostname); err != nil {
		return fmt.Errorf("HELO failed: %w", err)
	}

	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsConfig := &tls.Config{
			ServerName: t.cfg.Host,
			MinVersion: tls.VersionTLS12,
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			t.logger.Warn("STARTTLS failed, continuing without encryption", "host", t.cfg.Host, "error", err)
		}
	}

	if t.cfg.Username != "" {
		auth := sasl.NewPlainClient("", t.cfg.Username, t.cfg.Password)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("authentication failed: %w", err)
		}
	}

	if err := client.Mail(from, nil); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}
	if err := client.Rcpt(to, nil); err != nil {
		return fmt.Errorf("RCPT TO failed: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA failed: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish message: %w", err)
	}
	return client.Quit()
}

func (t *SMTP) buildMessage(from string, job *Job) ([]byte, error) {
	names, err := t.attachments.List(job.Letter.ID)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", job.Recipient.Email)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", job.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	if job.Token != "" {
		fmt.Fprintf(&buf, "%s: %s\r\n", RecipientHeader, job.Token)
	}
	buf.WriteString("MIME-Version: 1.0\r\n")

	if len(names) == 0 {
		buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
		buf.WriteString(job.Body)
		return buf.Bytes(), nil
	}

	mw := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mw.Boundary())

	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/plain; charset=utf-8"},
	})
	if err != nil {
		return nil, err
	}
	if _, err := part.Write([]byte(job.Body)); err != nil {
		return nil, err
	}

	for _, name := range names {
		data, err := t.attachments.Get(job.Letter.ID, name)
		if err != nil {
			return nil, err
		}
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {"application/octet-stream"},
			"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", name)},
			"Content-Transfer-Encoding": {"base64"},
		})
		if err != nil {
			return nil, err
		}
		enc := base64.NewEncoder(base64.StdEncoding, part)
		if _, err := enc.Write(data); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
