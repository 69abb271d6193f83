package report

import (
	"fmt"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strings"

	"github.com/rs/zerolog"

	"github.com/edvin/netbackup/internal/config"
)

// Mailer sends the rendered report over SMTP. It runs strictly after the
// backup work; a mail failure is reported to the caller but can never change
// a recorded backup outcome.
type Mailer struct {
	logger zerolog.Logger
	cfg    config.SMTPConfig
}

// NewMailer creates a Mailer from the run's SMTP settings.
func NewMailer(logger zerolog.Logger, cfg config.SMTPConfig) *Mailer {
	return &Mailer{
		logger: logger.With().Str("component", "mailer").Logger(),
		cfg:    cfg,
	}
}

// Send mails the HTML report as a multipart/alternative message with a
// plain-text fallback. STARTTLS is negotiated when the server offers it.
func (m *Mailer) Send(subject, htmlBody string) error {
	msg, err := buildMessage(m.cfg.From, m.cfg.To, subject, htmlBody)
	if err != nil {
		return fmt.Errorf("build report mail: %w", err)
	}

	addr := m.cfg.Host + ":" + m.cfg.Port
	auth := smtp.PlainAuth("", m.cfg.User, m.cfg.Pass, m.cfg.Host)

	m.logger.Info().Str("to", m.cfg.To).Str("subject", subject).Msg("sending report mail")

	if err := smtp.SendMail(addr, auth, m.cfg.From, strings.Split(m.cfg.To, ","), msg); err != nil {
		return fmt.Errorf("send report mail via %s: %w", addr, err)
	}
	return nil
}

// buildMessage assembles a multipart/alternative MIME message. The HTML part
// comes last: the last part of a multipart/alternative is preferred.
func buildMessage(from, to, subject, htmlBody string) ([]byte, error) {
	var buf strings.Builder
	mw := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%q\r\n", mw.Boundary())
	fmt.Fprintf(&buf, "\r\n")

	plain, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/plain; charset=utf-8"}})
	if err != nil {
		return nil, err
	}
	fmt.Fprint(plain, "Please enable HTML e-mail support to view this message.\r\n")

	html, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/html; charset=utf-8"}})
	if err != nil {
		return nil, err
	}
	fmt.Fprint(html, htmlBody)

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return []byte(buf.String()), nil
}
