package handler

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"donation-service/internal/dispatch"
	"donation-service/internal/document"
	"donation-service/internal/domain"
	"donation-service/internal/flow"
	"donation-service/internal/form"
	"donation-service/internal/sender"
	"donation-service/internal/service"
	"donation-service/internal/session"
	"donation-service/internal/validator"
)

type stubRenderer struct{}

func (stubRenderer) Render(s domain.FormSnapshot) (domain.GeneratedDocument, error) {
	return domain.GeneratedDocument{
		Filename:    domain.DocumentFilename,
		ContentType: domain.DocumentContentType,
		Data:        []byte("docx:" + s.Name),
	}, nil
}

type recordingSender struct {
	mu   sync.Mutex
	err  error
	sent []domain.OutgoingEmail
}

func (s *recordingSender) SendEmail(ctx context.Context, msg domain.OutgoingEmail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type testEnv struct {
	t       *testing.T
	h       *Handler
	routes  http.Handler
	store   *session.Store
	sender  *recordingSender
	cookies []*http.Cookie
}

var testFormatter = document.Formatter{ResearcherName: "山田太郎"}

func newTestEnv(t *testing.T, mode dispatch.Mode) *testEnv {
	t.Helper()
	schema, err := form.DefaultSchema()
	require.NoError(t, err)
	return newTestEnvWith(t, mode, schema, stubRenderer{})
}

func newTestEnvWith(t *testing.T, mode dispatch.Mode, schema *form.Schema, renderer service.DocumentRenderer) *testEnv {
	t.Helper()
	formatter := testFormatter
	snd := &recordingSender{}
	d := dispatch.New(dispatch.Settings{
		Mode:      mode,
		Recipient: "office@example.jp",
		From:      "noreply@example.jp",
	}, formatter, snd)
	svc := service.NewDonationService(schema, renderer, d, service.WithSendRetry(1, time.Millisecond))
	store := session.NewStore(time.Hour)

	h, err := New(svc, store, schema, formatter)
	require.NoError(t, err)
	return &testEnv{t: t, h: h, routes: h.Routes(), store: store, sender: snd}
}

func (e *testEnv) do(method, target string, values url.Values) *httptest.ResponseRecorder {
	e.t.Helper()
	var body io.Reader
	if values != nil {
		body = strings.NewReader(values.Encode())
	}
	req := httptest.NewRequest(method, target, body)
	if values != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for _, c := range e.cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.routes.ServeHTTP(rec, req)
	if cs := rec.Result().Cookies(); len(cs) > 0 {
		e.cookies = cs
	}
	return rec
}

func (e *testEnv) session() *session.Session {
	e.t.Helper()
	require.NotEmpty(e.t, e.cookies)
	s, ok := e.store.Get(e.cookies[0].Value)
	require.True(e.t, ok)
	return s
}

func (e *testEnv) page() string {
	e.t.Helper()
	rec := e.do(http.MethodGet, "/", nil)
	require.Equal(e.t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func validForm() url.Values {
	return url.Values{
		"date":          {"2025-04-03"},
		"name":          {"九大 花子"},
		"postal_code":   {"819-0395"},
		"address1":      {"福岡県福岡市西区元岡744"},
		"email":         {"hanako@example.jp"},
		"amount_option": {"5,000 円"},
		"custom_amount": {"3000"},
		"purpose":       {"研究全般"},
		"condition":     {"none"},
		"comment":       {"よろしくお願いします"},
	}
}

func (e *testEnv) submit(values url.Values) string {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/submit", values)
	require.Equal(e.t, http.StatusSeeOther, rec.Code)
	return e.session().Machine.View().Cycle
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, dispatch.ModeDirectSend)
	rec := env.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestIndex_NewSession(t *testing.T) {
	env := newTestEnv(t, dispatch.ModeDirectSend)
	body := env.page()

	require.Len(t, env.cookies, 1)
	assert.Equal(t, sessionCookie, env.cookies[0].Name)
	assert.True(t, env.cookies[0].HttpOnly)
	assert.Equal(t, flow.Idle, env.session().Machine.State())

	assert.Contains(t, body, `value="3,000 円" checked`)
	assert.Contains(t, body, "寄附先の選択")
	assert.Contains(t, body, "ご利用手順")
	assert.Contains(t, body, "振込手数料は寄附者のご負担となります。")
	assert.Contains(t, body, `name="postal_code" value="" required maxlength="7"`)
	assert.Contains(t, body, "例：8190395")
	assert.Contains(t, body, `type="email" id="email"`)
	assert.NotContains(t, body, `id="review"`)
	assert.NotContains(t, body, `id="document"`)
}

func TestDirectSendFlow(t *testing.T) {
	env := newTestEnv(t, dispatch.ModeDirectSend)
	env.page()
	cycle := env.submit(validForm())
	s := env.session()
	assert.Equal(t, flow.Submitted, s.Machine.State())

	body := env.page()
	assert.Contains(t, body, `id="review"`)
	assert.Contains(t, body, "〒8190395 福岡県福岡市西区元岡744")
	assert.Contains(t, body, "5,000 円")
	assert.Contains(t, body, "研究者へ［山田太郎／研究全般］")

	rec := env.do(http.MethodPost, "/confirm", url.Values{"cycle": {cycle}})
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, flow.Submitted, s.Machine.State())
	assert.Contains(t, env.page(), msgConfirmUnchecked)

	rec = env.do(http.MethodPost, "/confirm", url.Values{"cycle": {cycle}, "confirmed": {"on"}})
	assert.Equal(t, "/#document", rec.Header().Get("Location"))
	assert.Equal(t, flow.Generated, s.Machine.State())
	body = env.page()
	assert.Contains(t, body, msgGenerated)
	assert.Contains(t, body, "/download?cycle="+cycle)
	assert.NotContains(t, body, `id="delivery"`)

	rec = env.do(http.MethodGet, "/download?cycle="+cycle, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.DocumentContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "filename*=")
	assert.Equal(t, "docx:九大 花子", rec.Body.String())
	assert.Equal(t, flow.Downloaded, s.Machine.State())

	body = env.page()
	assert.Contains(t, body, `action="/send"`)
	assert.NotContains(t, body, "disabled")

	rec = env.do(http.MethodPost, "/send", url.Values{"cycle": {cycle}})
	assert.Equal(t, "/#delivery", rec.Header().Get("Location"))
	assert.Equal(t, flow.EmailSent, s.Machine.State())
	require.Equal(t, 1, env.sender.count())
	msg := env.sender.sent[0]
	assert.Equal(t, "office@example.jp", msg.To)
	assert.Equal(t, "hanako@example.jp", msg.Cc)
	assert.Equal(t, dispatch.SendSubject, msg.Subject)
	assert.Equal(t, []byte("docx:九大 花子"), msg.Attachment.Data)

	body = env.page()
	assert.Contains(t, body, msgSent)
	assert.Contains(t, body, "disabled")

	env.do(http.MethodPost, "/send", url.Values{"cycle": {cycle}})
	assert.Equal(t, 1, env.sender.count())
	assert.Contains(t, env.page(), msgAlreadySent)
}

func TestConfirm_ValidationError(t *testing.T) {
	env := newTestEnv(t, dispatch.ModeDirectSend)
	values := validForm()
	values.Set("postal_code", "81903")
	cycle := env.submit(values)

	env.do(http.MethodPost, "/confirm", url.Values{"cycle": {cycle}, "confirmed": {"on"}})
	assert.Equal(t, flow.Submitted, env.session().Machine.State())
	assert.Contains(t, env.page(), "郵便番号はハイフンなしの7桁の数字で入力してください。")
}

func TestConfirm_EightDigitPostalCodeRejected(t *testing.T) {
	env := newTestEnv(t, dispatch.ModeDirectSend)
	values := validForm()
	values.Set("postal_code", "81903951")
	cycle := env.submit(values)
	assert.Equal(t, "81903951", env.session().Machine.View().Input.PostalCode)

	env.do(http.MethodPost, "/confirm", url.Values{"cycle": {cycle}, "confirmed": {"on"}})
	assert.Equal(t, flow.Submitted, env.session().Machine.State())
	assert.Contains(t, env.page(), "郵便番号はハイフンなしの7桁の数字で入力してください。")
}

func TestIndex_FormFollowsSchema(t *testing.T) {
	schema, err := form.DefaultSchema()
	require.NoError(t, err)
	for i := range schema.Fields {
		switch schema.Fields[i].Name {
		case "address2":
			schema.Fields[i].Required = true
			schema.Fields[i].Help = "建物名がない場合は「なし」と入力してください"
		case "postal_code":
			schema.Fields[i].MaxChars = 8
		}
	}
	env := newTestEnvWith(t, dispatch.ModeDirectSend, schema, stubRenderer{})
	body := env.page()

	assert.Contains(t, body, `name="address2" value="" required>`)
	assert.Contains(t, body, "建物名がない場合は「なし」と入力してください")
	assert.Contains(t, body, `maxlength="8"`)
	assert.NotContains(t, body, `maxlength="7"`)
}

// writeDonationTemplate writes a minimal docx containing every placeholder.
func writeDonationTemplate(t *testing.T, path string) {
	t.Helper()
	var body strings.Builder
	for _, name := range document.Placeholders {
		body.WriteString("<w:p><w:r><w:t>{{ " + name + " }}</w:t></w:r></w:p>")
	}
	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)
	for name, content := range map[string]string{
		"[Content_Types].xml": `<?xml version="1.0" encoding="UTF-8"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"/>`,
		"word/document.xml": `<?xml version="1.0" encoding="UTF-8"?>` +
			`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
			body.String() + `</w:body></w:document>`,
	} {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
}

func TestConfirm_TemplateMissingOffersRetry(t *testing.T) {
	schema, err := form.DefaultSchema()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "donate_format.docx")
	renderer := document.NewRenderer(document.NewDocxEngine(), path, testFormatter)
	env := newTestEnvWith(t, dispatch.ModeDirectSend, schema, renderer)

	cycle := env.submit(validForm())
	env.do(http.MethodPost, "/confirm", url.Values{"cycle": {cycle}, "confirmed": {"on"}})
	assert.Equal(t, flow.Confirmed, env.session().Machine.State())

	body := env.page()
	assert.Contains(t, body, msgTemplate)
	assert.Contains(t, body, "寄附申込書を再作成する")
	assert.Contains(t, body, `name="confirmed" value="on"`)
	assert.NotContains(t, body, "確定済み")
	assert.NotContains(t, body, "/download?cycle=")

	writeDonationTemplate(t, path)
	rec := env.do(http.MethodPost, "/confirm", url.Values{"cycle": {cycle}, "confirmed": {"on"}})
	assert.Equal(t, "/#document", rec.Header().Get("Location"))
	assert.Equal(t, flow.Generated, env.session().Machine.State())

	body = env.page()
	assert.Contains(t, body, "確定済み")
	assert.NotContains(t, body, "寄附申込書を再作成する")
	assert.Contains(t, body, "/download?cycle="+cycle)

	rec = env.do(http.MethodGet, "/download?cycle="+cycle, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	require.NoError(t, err)
	assert.NotEmpty(t, zr.File)
}

func TestSubmit_UnparseableValue(t *testing.T) {
	env := newTestEnv(t, dispatch.ModeDirectSend)
	values := validForm()
	values.Set("custom_amount", "abc")
	rec := env.do(http.MethodPost, "/submit", values)

	assert.Equal(t, "/#form", rec.Header().Get("Location"))
	assert.Equal(t, flow.Idle, env.session().Machine.State())
	assert.Contains(t, env.page(), "「自由入力欄（円）」の値を読み取れませんでした。")
}

func TestConfirm_StaleCycle(t *testing.T) {
	env := newTestEnv(t, dispatch.ModeDirectSend)
	old := env.submit(validForm())
	values := validForm()
	values.Set("name", "九大 次郎")
	current := env.submit(values)
	require.NotEqual(t, old, current)

	env.do(http.MethodPost, "/confirm", url.Values{"cycle": {old}, "confirmed": {"on"}})
	assert.Equal(t, flow.Submitted, env.session().Machine.State())
	assert.Contains(t, env.page(), msgStale)
}

func TestDownload_BeforeGenerated(t *testing.T) {
	env := newTestEnv(t, dispatch.ModeDirectSend)
	cycle := env.submit(validForm())

	rec := env.do(http.MethodGet, "/download?cycle="+cycle, nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/#document", rec.Header().Get("Location"))
	assert.Contains(t, env.page(), msgNotYet)
}

func TestSend_AuthFailureKeepsDownloaded(t *testing.T) {
	env := newTestEnv(t, dispatch.ModeDirectSend)
	env.sender.err = &sender.AuthError{Err: errors.New("535 5.7.8 Username and Password not accepted")}
	cycle := env.submit(validForm())
	env.do(http.MethodPost, "/confirm", url.Values{"cycle": {cycle}, "confirmed": {"on"}})
	env.do(http.MethodGet, "/download?cycle="+cycle, nil)

	env.do(http.MethodPost, "/send", url.Values{"cycle": {cycle}})
	assert.Equal(t, flow.Downloaded, env.session().Machine.State())
	assert.Contains(t, env.page(), msgAuth)
}

func TestComposeLinkFlow(t *testing.T) {
	env := newTestEnv(t, dispatch.ModeComposeLink)
	cycle := env.submit(validForm())
	env.do(http.MethodPost, "/confirm", url.Values{"cycle": {cycle}, "confirmed": {"on"}})

	rec := env.do(http.MethodGet, "/compose?cycle="+cycle, nil)
	assert.Equal(t, "/#delivery", rec.Header().Get("Location"))

	env.do(http.MethodGet, "/download?cycle="+cycle, nil)
	body := env.page()
	assert.Contains(t, body, "/compose?cycle="+cycle)
	assert.NotContains(t, body, `action="/send"`)

	rec = env.do(http.MethodGet, "/compose?cycle="+cycle, nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Location"), "mailto:office@example.jp?subject="))
	assert.Equal(t, flow.Downloaded, env.session().Machine.State())

	env.do(http.MethodPost, "/send", url.Values{"cycle": {cycle}})
	assert.Equal(t, 0, env.sender.count())
	assert.Contains(t, env.page(), msgWrongMode)
}

func TestMessage(t *testing.T) {
	env := newTestEnv(t, dispatch.ModeDirectSend)
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"template", &document.TemplateError{Path: "x.docx", Err: document.ErrTemplateMissing}, msgTemplate},
		{"transport", &sender.TransportError{Err: errors.New("dial tcp: timeout")}, msgTransport},
		{"unconfirmed delivery", &sender.UnknownOutcomeError{Err: errors.New("read tcp: i/o timeout")}, msgOutcomeUnknown},
		{"not configured", dispatch.ErrNotConfigured, msgMailDisabled},
		{"empty detail", validator.Field("condition_detail", validator.ErrEmptyConditionDetail), "条件の内容を入力してください。"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, env.h.message(tt.err))
		})
	}
	assert.Contains(t, env.h.message(errors.New("boom")), "boom")
}
