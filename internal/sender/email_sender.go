package sender

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"slices"
	"strings"
	"time"

	"github.com/jordan-wright/email"
	log "github.com/sirupsen/logrus"

	"donation-service/internal/domain"
)

type EmailSender interface {
	SendEmail(ctx context.Context, msg domain.OutgoingEmail) error
}

// AuthError means the SMTP server rejected the credentials.
type AuthError struct{ Err error }

func (e *AuthError) Error() string { return "smtp authentication failed: " + e.Err.Error() }
func (e *AuthError) Unwrap() error { return e.Err }

// UnknownOutcomeError means the connection failed after the whole message was handed over, so
// the server may or may not have accepted it. Resending risks a duplicate.
type UnknownOutcomeError struct{ Err error }

func (e *UnknownOutcomeError) Error() string {
	return "smtp delivery outcome unknown: " + e.Err.Error()
}
func (e *UnknownOutcomeError) Unwrap() error { return e.Err }

// TransportError covers every other failure to hand the message to the server.
type TransportError struct{ Err error }

func (e *TransportError) Error() string { return "smtp transport failed: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

type TLSMode string

const (
	TLSImplicit TLSMode = "ssl"
	TLSStart    TLSMode = "starttls"
	TLSNone     TLSMode = "none"
)

type SMTPEmailSender struct {
	host    string
	port    string
	user    string
	pass    string
	from    string
	tls     TLSMode
	timeout time.Duration
}

func NewSMTPEmailSender(host, port, user, pass, from string, mode TLSMode, timeout time.Duration) *SMTPEmailSender {
	return &SMTPEmailSender{host: host, port: port, user: user, pass: pass, from: from, tls: mode, timeout: timeout}
}

// SendEmail delivers msg within the sender's timeout. Every network operation is bound to the
// deadline, so nothing keeps talking to the server after SendEmail returns.
func (s *SMTPEmailSender) SendEmail(ctx context.Context, msg domain.OutgoingEmail) error {
	e, err := s.build(msg)
	if err != nil {
		return &TransportError{Err: err}
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.send(ctx, e)
}

func (s *SMTPEmailSender) build(msg domain.OutgoingEmail) (*email.Email, error) {
	e := email.NewEmail()
	e.From = s.from
	if msg.From != "" {
		e.From = msg.From
	}
	e.To = []string{msg.To}
	if msg.Cc != "" {
		e.Cc = []string{msg.Cc}
	}
	e.Subject = msg.Subject
	e.Text = []byte(msg.Body)

	if a := msg.Attachment; len(a.Data) > 0 {
		if _, err := e.Attach(bytes.NewReader(a.Data), a.Filename, a.ContentType); err != nil {
			return nil, fmt.Errorf("attach %s: %w", a.Filename, err)
		}
	}
	return e, nil
}

func (s *SMTPEmailSender) dial(ctx context.Context) (net.Conn, error) {
	addr := net.JoinHostPort(s.host, s.port)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return nil, err
		}
	}
	if s.tls != TLSImplicit && s.tls != "" {
		return conn, nil
	}
	tlsConn := tls.Client(conn, &tls.Config{ServerName: s.host})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return tlsConn, nil
}

func (s *SMTPEmailSender) send(ctx context.Context, e *email.Email) error {
	raw, err := e.Bytes()
	if err != nil {
		return &TransportError{Err: fmt.Errorf("encode message: %w", err)}
	}
	from, err := mail.ParseAddress(e.From)
	if err != nil {
		return &TransportError{Err: fmt.Errorf("parse sender address: %w", err)}
	}

	conn, err := s.dial(ctx)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer conn.Close()
	// Cancellation unblocks any pending read or write.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	c, err := smtp.NewClient(conn, s.host)
	if err != nil {
		return classify(err)
	}
	defer c.Close()

	if s.tls == TLSStart {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			return &AuthError{Err: errors.New("smtp: server doesn't support STARTTLS")}
		}
		if err := c.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
			return classify(err)
		}
	}
	if s.user != "" {
		if err := c.Auth(smtp.PlainAuth("", s.user, s.pass, s.host)); err != nil {
			return classify(err)
		}
	}
	if err := c.Mail(from.Address); err != nil {
		return classify(err)
	}
	for _, rcpt := range slices.Concat(e.To, e.Cc, e.Bcc) {
		addr, err := mail.ParseAddress(rcpt)
		if err != nil {
			return &TransportError{Err: fmt.Errorf("parse recipient %q: %w", rcpt, err)}
		}
		if err := c.Rcpt(addr.Address); err != nil {
			return classify(err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return classify(err)
	}
	if _, err := w.Write(raw); err != nil {
		return classify(err)
	}
	// From here on the server may already hold the complete message.
	if err := w.Close(); err != nil {
		var tpErr *textproto.Error
		if errors.As(err, &tpErr) {
			return classify(err)
		}
		return &UnknownOutcomeError{Err: err}
	}
	if err := c.Quit(); err != nil {
		log.WithError(err).Debug("SMTP QUIT failed after the message was accepted")
	}
	return nil
}

// classify maps SMTP failures onto AuthError or TransportError.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		switch tpErr.Code {
		case 530, 534, 535, 538:
			return &AuthError{Err: err}
		}
	}
	if strings.Contains(err.Error(), "doesn't support AUTH") || strings.Contains(err.Error(), "unencrypted connection") {
		return &AuthError{Err: err}
	}
	return &TransportError{Err: err}
}
