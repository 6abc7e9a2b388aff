package handler

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"donation-service/internal/document"
	"donation-service/internal/form"
	"donation-service/internal/service"
	"donation-service/internal/session"
)

const (
	sessionCookie = "donation_session"
	maxFormBytes  = 64 << 10
)

//go:embed templates/*.html
var templateFS embed.FS

type ctxKey struct{}

type Handler struct {
	svc       *service.DonationService
	store     *session.Store
	schema    *form.Schema
	parser    *form.Parser
	resolver  *form.AmountResolver
	formatter document.Formatter
	page      *template.Template
}

func New(svc *service.DonationService, store *session.Store, schema *form.Schema, formatter document.Formatter) (*Handler, error) {
	h := &Handler{
		svc:       svc,
		store:     store,
		schema:    schema,
		parser:    form.NewParser(schema),
		resolver:  form.NewAmountResolver(schema.Amount),
		formatter: formatter,
	}
	page, err := template.New("page.html").Funcs(template.FuncMap{
		"input": h.input,
	}).ParseFS(templateFS, "templates/page.html")
	if err != nil {
		return nil, fmt.Errorf("parse page template: %w", err)
	}
	h.page = page
	return h, nil
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(h.withSession)
		r.Get("/", h.index)
		r.Post("/submit", h.submit)
		r.Post("/confirm", h.confirm)
		r.Get("/download", h.download)
		r.Get("/compose", h.compose)
		r.Post("/send", h.send)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.WithFields(log.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("HTTP request")
	})
}

// withSession attaches the caller's session, creating one and setting the cookie if needed.
func (h *Handler) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var s *session.Session
		if c, err := r.Cookie(sessionCookie); err == nil {
			s, _ = h.store.Get(c.Value)
		}
		if s == nil {
			s = h.store.Create()
			http.SetCookie(w, &http.Cookie{
				Name:     sessionCookie,
				Value:    s.ID,
				Path:     "/",
				HttpOnly: true,
				Secure:   r.TLS != nil,
				SameSite: http.SameSiteLaxMode,
			})
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, s)))
	})
}

func sessionFrom(r *http.Request) *session.Session {
	return r.Context().Value(ctxKey{}).(*session.Session)
}

func (h *Handler) index(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r)
	data := h.pageData(s)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := h.page.Execute(w, data); err != nil {
		log.WithError(err).WithField("session_id", s.ID).Error("Failed to render page")
	}
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r)
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		h.fail(w, r, s, err, "#form")
		return
	}
	in, err := h.parser.Parse(r.PostForm)
	if err != nil {
		h.fail(w, r, s, err, "#form")
		return
	}
	h.svc.Submit(s.Machine, in)
	http.Redirect(w, r, "/#review", http.StatusSeeOther)
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r)
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		h.fail(w, r, s, err, "#review")
		return
	}
	if r.PostForm.Get("confirmed") != "on" {
		s.AddFlash(session.FlashError, msgConfirmUnchecked)
		http.Redirect(w, r, "/#review", http.StatusSeeOther)
		return
	}
	if err := h.svc.Confirm(r.Context(), s.Machine, r.PostForm.Get("cycle")); err != nil {
		h.fail(w, r, s, err, "#review")
		return
	}
	s.AddFlash(session.FlashSuccess, msgGenerated)
	http.Redirect(w, r, "/#document", http.StatusSeeOther)
}

func (h *Handler) download(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r)
	doc, err := h.svc.Download(s.Machine, r.URL.Query().Get("cycle"))
	if err != nil {
		h.fail(w, r, s, err, "#document")
		return
	}
	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": doc.Filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(doc.Data)))
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(doc.Data); err != nil {
		log.WithError(err).WithField("session_id", s.ID).Warn("Document download interrupted")
	}
}

func (h *Handler) compose(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r)
	link, err := h.svc.ComposeLink(s.Machine, r.URL.Query().Get("cycle"))
	if err != nil {
		h.fail(w, r, s, err, "#delivery")
		return
	}
	http.Redirect(w, r, link, http.StatusSeeOther)
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r)
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		h.fail(w, r, s, err, "#delivery")
		return
	}
	if err := h.svc.Send(r.Context(), s.Machine, r.PostForm.Get("cycle")); err != nil {
		h.fail(w, r, s, err, "#delivery")
		return
	}
	s.AddFlash(session.FlashSuccess, msgSent)
	http.Redirect(w, r, "/#delivery", http.StatusSeeOther)
}

// fail reports err on the page and sends the donor back to it; the session stays usable.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, s *session.Session, err error, anchor string) {
	log.WithError(err).WithFields(log.Fields{
		"session_id": s.ID,
		"path":       r.URL.Path,
		"state":      s.Machine.State().String(),
	}).Warn("Request could not be completed")
	s.AddFlash(session.FlashError, h.message(err))
	http.Redirect(w, r, "/"+anchor, http.StatusSeeOther)
}
