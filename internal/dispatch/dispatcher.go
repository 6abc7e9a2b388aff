// Package dispatch decides which delivery actions a submission offers and builds the
// outgoing message for each of them.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"text/template"

	"donation-service/internal/document"
	"donation-service/internal/domain"
	"donation-service/internal/flow"
	"donation-service/internal/sender"
)

type Mode string

const (
	ModeDirectSend  Mode = "direct-send"
	ModeComposeLink Mode = "compose-link"
)

func (m Mode) Valid() bool {
	return m == ModeDirectSend || m == ModeComposeLink
}

const (
	SendSubject    = "【自動送信】九州大学寄附申込書の提出"
	ComposeSubject = "九州大学寄附申込書の提出"
)

var (
	ErrNotConfigured = errors.New("email delivery is not configured")
	ErrWrongMode     = errors.New("action not available in this email mode")
)

var sendBody = template.Must(template.New("send").Parse(`九州大学 寄附申込フォームを通じて、以下のとおり寄附申込書を提出いたします。
添付ファイルをご確認いただき、所定の手続きへのご対応をよろしくお願いいたします。

提出者（代理）：{{.Researcher}}{{with .Affiliation}}（{{.}}）{{end}}
寄附者：{{.Name}} 様
寄附目的：{{.Purpose}}
寄附金額：{{.Amount}} 円

控えとして寄附者様にも本メールをCCにてお送りしております。

----
本メールはフォーム入力により自動生成されています。
{{- with .Contact}}
ご不明点等ございましたら、{{$.Researcher}}（{{.}}）までご連絡ください。
{{- end}}
`))

var composeBody = template.Must(template.New("compose").Parse(`九州大学 寄附申込フォームで作成した寄附申込書を提出いたします。
添付ファイルをご確認いただき、所定の手続きへのご対応をよろしくお願いいたします。

寄附者：{{.Name}}
寄附目的：{{.Purpose}}
寄附金額：{{.Amount}} 円
研究者：{{.Researcher}}

※ダウンロードした寄附申込書（{{.Filename}}）を添付して送信してください。
`))

type bodyData struct {
	Researcher  string
	Affiliation string
	Contact     string
	Name        string
	Purpose     string
	Amount      string
	Filename    string
}

type Settings struct {
	Mode        Mode
	Recipient   string
	From        string
	Affiliation string
	Contact     string
	// Unavailable, when set, is returned by every email action instead of attempting delivery.
	Unavailable error
}

// Actions lists what the page may offer for a given state.
type Actions struct {
	Mode        Mode
	Download    bool
	Email       bool
	SendEnabled bool
}

type Dispatcher struct {
	settings  Settings
	formatter document.Formatter
	sender    sender.EmailSender
}

func New(settings Settings, formatter document.Formatter, emailSender sender.EmailSender) *Dispatcher {
	if !settings.Mode.Valid() {
		settings.Mode = ModeDirectSend
	}
	return &Dispatcher{settings: settings, formatter: formatter, sender: emailSender}
}

func (d *Dispatcher) Mode() Mode {
	return d.settings.Mode
}

func (d *Dispatcher) Actions(state flow.State) Actions {
	return Actions{
		Mode:        d.settings.Mode,
		Download:    state >= flow.Generated,
		Email:       state >= flow.Downloaded,
		SendEnabled: state == flow.Downloaded,
	}
}

func (d *Dispatcher) ready() error {
	if d.settings.Unavailable != nil {
		return d.settings.Unavailable
	}
	if d.settings.Recipient == "" {
		return ErrNotConfigured
	}
	return nil
}

func (d *Dispatcher) data(s domain.FormSnapshot) bodyData {
	return bodyData{
		Researcher:  d.formatter.ResearcherName,
		Affiliation: d.settings.Affiliation,
		Contact:     d.settings.Contact,
		Name:        s.Name,
		Purpose:     s.Purpose,
		Amount:      d.formatter.Amount(s.Amount),
		Filename:    domain.DocumentFilename,
	}
}

func execute(t *template.Template, data bodyData) (string, error) {
	var b bytes.Buffer
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s body: %w", t.Name(), err)
	}
	return b.String(), nil
}

// BuildEmail assembles the direct-send message: the office as recipient, the donor in copy,
// and the generated document attached.
func (d *Dispatcher) BuildEmail(s domain.FormSnapshot, doc domain.GeneratedDocument) (domain.OutgoingEmail, error) {
	if err := d.ready(); err != nil {
		return domain.OutgoingEmail{}, err
	}
	body, err := execute(sendBody, d.data(s))
	if err != nil {
		return domain.OutgoingEmail{}, err
	}
	return domain.OutgoingEmail{
		From:    d.settings.From,
		To:      d.settings.Recipient,
		Cc:      s.Email,
		Subject: SendSubject,
		Body:    body,
		Attachment: domain.Attachment{
			Filename:    doc.Filename,
			ContentType: doc.ContentType,
			Data:        doc.Data,
		},
	}, nil
}

// Send delivers msg through the configured transport.
func (d *Dispatcher) Send(ctx context.Context, msg domain.OutgoingEmail) error {
	if d.settings.Mode != ModeDirectSend {
		return ErrWrongMode
	}
	if err := d.ready(); err != nil {
		return err
	}
	if d.sender == nil {
		return ErrNotConfigured
	}
	return d.sender.SendEmail(ctx, msg)
}

// ComposeLink builds a mailto: link that opens the donor's mail client pre-filled.
func (d *Dispatcher) ComposeLink(s domain.FormSnapshot) (string, error) {
	if d.settings.Mode != ModeComposeLink {
		return "", ErrWrongMode
	}
	if err := d.ready(); err != nil {
		return "", err
	}
	body, err := execute(composeBody, d.data(s))
	if err != nil {
		return "", err
	}
	return MailtoLink(d.settings.Recipient, ComposeSubject, body), nil
}

// MailtoLink percent-encodes subject and body for a mailto: URL. Line breaks are sent as
// CRLF and spaces as %20, which mail clients decode consistently.
func MailtoLink(recipient, subject, body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\n", "\r\n")
	return "mailto:" + url.PathEscape(recipient) +
		"?subject=" + mailtoEscape(subject) +
		"&body=" + mailtoEscape(body)
}

func mailtoEscape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
