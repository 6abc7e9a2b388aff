package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"donation-service/internal/dispatch"
	"donation-service/internal/domain"
	"donation-service/internal/flow"
	"donation-service/internal/form"
	"donation-service/internal/sender"
	"donation-service/internal/validator"
)

// SubmissionRepository records the outcome of every send attempt.
type SubmissionRepository interface {
	SaveLog(ctx context.Context, log domain.SubmissionLog) error
}

type EventPublisher interface {
	Publish(ctx context.Context, event domain.SubmissionEvent) error
}

type DocumentRenderer interface {
	Render(s domain.FormSnapshot) (domain.GeneratedDocument, error)
}

type Dispatcher interface {
	Mode() dispatch.Mode
	Actions(state flow.State) dispatch.Actions
	BuildEmail(s domain.FormSnapshot, doc domain.GeneratedDocument) (domain.OutgoingEmail, error)
	Send(ctx context.Context, msg domain.OutgoingEmail) error
	ComposeLink(s domain.FormSnapshot) (string, error)
}

type Option func(*DonationService)

func WithSubmissionRepository(r SubmissionRepository) Option {
	return func(s *DonationService) { s.repository = r }
}

func WithEventPublisher(p EventPublisher) Option {
	return func(s *DonationService) { s.publisher = p }
}

// WithSendRetry sets how often a transport failure is retried and the first backoff delay.
func WithSendRetry(attempts int, initialDelay time.Duration) Option {
	return func(s *DonationService) {
		if attempts < 1 {
			attempts = 1
		}
		s.sendAttempts = attempts
		s.retryDelay = initialDelay
	}
}

type DonationService struct {
	schema       *form.Schema
	resolver     *form.AmountResolver
	renderer     DocumentRenderer
	dispatcher   Dispatcher
	repository   SubmissionRepository
	publisher    EventPublisher
	sendAttempts int
	retryDelay   time.Duration
	now          func() time.Time
}

func NewDonationService(schema *form.Schema, renderer DocumentRenderer, dispatcher Dispatcher, opts ...Option) *DonationService {
	s := &DonationService{
		schema:       schema,
		resolver:     form.NewAmountResolver(schema.Amount),
		renderer:     renderer,
		dispatcher:   dispatcher,
		sendAttempts: 3,
		retryDelay:   time.Second,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Page is everything the form page needs to render one session.
type Page struct {
	flow.View
	Actions dispatch.Actions
}

func (s *DonationService) Page(m *flow.Machine) Page {
	v := m.View()
	return Page{View: v, Actions: s.dispatcher.Actions(v.State)}
}

// Submit starts a new cycle with in, discarding anything the previous cycle produced.
func (s *DonationService) Submit(m *flow.Machine, in domain.FormInput) string {
	cycle := m.Submit(in)
	log.WithField("cycle", cycle).Debug("Form submitted")
	return cycle
}

// Confirm validates and freezes the submitted values, then generates the document.
// A template failure leaves the submission confirmed; calling Confirm again retries generation.
func (s *DonationService) Confirm(ctx context.Context, m *flow.Machine, cycle string) error {
	if err := m.Confirm(cycle, s.freeze); err != nil {
		return err
	}

	var generated *domain.FormSnapshot
	err := m.Generate(cycle, func(snap domain.FormSnapshot) (domain.GeneratedDocument, error) {
		doc, err := s.renderer.Render(snap)
		if err == nil {
			generated = &snap
		}
		return doc, err
	})
	if err != nil {
		return err
	}
	if generated != nil {
		log.WithFields(log.Fields{
			"submission_id": generated.ID,
			"amount":        generated.Amount,
		}).Info("Donation document generated")
		s.publish(ctx, domain.EventDocumentGenerated, *generated)
	}
	return nil
}

func (s *DonationService) freeze(in domain.FormInput) (domain.FormSnapshot, error) {
	if err := validator.ValidateFormInput(in, s.schema.Purposes); err != nil {
		return domain.FormSnapshot{}, err
	}
	amount, err := s.resolver.Resolve(in.AmountOption, in.CustomAmount)
	if err != nil {
		return domain.FormSnapshot{}, err
	}
	if err := validator.ValidateAmount(amount); err != nil {
		return domain.FormSnapshot{}, validator.Field("custom_amount", err)
	}

	detail := in.ConditionDetail
	if in.Condition != domain.ConditionPresent {
		detail = ""
	}
	return domain.FormSnapshot{
		ID:              uuid.NewString(),
		CapturedAt:      s.now(),
		Date:            in.Date,
		Name:            in.Name,
		PostalCode:      validator.NormalizePostalCode(in.PostalCode),
		Address1:        in.Address1,
		Address2:        in.Address2,
		Email:           in.Email,
		Amount:          amount,
		Purpose:         in.Purpose,
		Condition:       in.Condition,
		ConditionDetail: detail,
		Comment:         in.Comment,
	}, nil
}

func (s *DonationService) Download(m *flow.Machine, cycle string) (domain.GeneratedDocument, error) {
	return m.Download(cycle)
}

// ComposeLink returns the mail-client link once the document has been downloaded.
func (s *DonationService) ComposeLink(m *flow.Machine, cycle string) (string, error) {
	v := m.View()
	if v.State == flow.Idle {
		return "", flow.ErrInvalidTransition
	}
	if v.Cycle != cycle {
		return "", flow.ErrStaleCycle
	}
	if !s.dispatcher.Actions(v.State).Email {
		return "", flow.ErrInvalidTransition
	}
	return s.dispatcher.ComposeLink(v.Snapshot)
}

// Send emails the application to the office with the donor in copy. It succeeds at most
// once per cycle; failures leave the submission downloaded so the donor can retry.
// When the server may have accepted the message but did not confirm it, the cycle is closed
// as sent and the *sender.UnknownOutcomeError is returned.
func (s *DonationService) Send(ctx context.Context, m *flow.Machine, cycle string) error {
	if s.dispatcher.Mode() != dispatch.ModeDirectSend {
		return dispatch.ErrWrongMode
	}

	var (
		sent       *domain.FormSnapshot
		unknownErr *sender.UnknownOutcomeError
	)
	err := m.Send(cycle, func(snap domain.FormSnapshot, doc domain.GeneratedDocument) error {
		msg, err := s.dispatcher.BuildEmail(snap, doc)
		if err != nil {
			return err
		}
		err = s.sendWithRetry(ctx, msg)
		s.saveLog(ctx, snap, msg, err)
		if errors.As(err, &unknownErr) {
			sent = &snap
			return nil
		}
		if err == nil {
			sent = &snap
		}
		return err
	})
	if err != nil {
		return err
	}
	if unknownErr != nil {
		log.WithError(unknownErr).WithField("submission_id", sent.ID).
			Warn("Email delivery unconfirmed; not resending to avoid a duplicate")
		return unknownErr
	}

	log.WithFields(log.Fields{
		"submission_id": sent.ID,
		"email":         sent.Email,
	}).Info("Donation application email sent successfully via SMTP")
	s.publish(ctx, domain.EventEmailSent, *sent)
	return nil
}

// sendWithRetry retries transport failures with exponential backoff.
// Authentication, configuration and unknown-outcome errors are returned immediately.
func (s *DonationService) sendWithRetry(ctx context.Context, msg domain.OutgoingEmail) error {
	delay := s.retryDelay
	var err error
	for attempt := 1; attempt <= s.sendAttempts; attempt++ {
		err = s.dispatcher.Send(ctx, msg)
		if err == nil {
			if attempt > 1 {
				log.WithFields(log.Fields{
					"attempt":      attempt,
					"max_attempts": s.sendAttempts,
					"email":        msg.Cc,
				}).Info("Email sent successfully after retry")
			}
			return nil
		}

		var transportErr *sender.TransportError
		if !errors.As(err, &transportErr) || attempt == s.sendAttempts {
			break
		}

		log.WithFields(log.Fields{
			"attempt":      attempt,
			"max_attempts": s.sendAttempts,
			"error":        err,
			"email":        msg.Cc,
		}).Warn("Failed to send email, retrying...")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%w (retry aborted: %v)", err, ctx.Err())
		}
		delay *= 2
	}
	log.WithError(err).Error("Failed to send donation application email via SMTP")
	return err
}

func (s *DonationService) saveLog(ctx context.Context, snap domain.FormSnapshot, msg domain.OutgoingEmail, sendErr error) {
	if s.repository == nil {
		return
	}
	entry := domain.SubmissionLog{
		SubmissionID:   snap.ID,
		RecipientEmail: msg.To,
		CcEmail:        msg.Cc,
		Subject:        msg.Subject,
		Amount:         snap.Amount,
		Status:         domain.StatusSent,
	}
	var unknownErr *sender.UnknownOutcomeError
	switch {
	case errors.As(sendErr, &unknownErr):
		entry.Status = domain.StatusUnknown
		entry.ErrorMessage = sql.NullString{String: sendErr.Error(), Valid: true}
	case sendErr != nil:
		entry.Status = domain.StatusFailed
		entry.ErrorMessage = sql.NullString{String: sendErr.Error(), Valid: true}
	}
	if err := s.repository.SaveLog(ctx, entry); err != nil {
		log.WithError(err).Error("Failed to save submission log to database")
	}
}

func (s *DonationService) publish(ctx context.Context, t domain.EventType, snap domain.FormSnapshot) {
	if s.publisher == nil {
		return
	}
	event := domain.SubmissionEvent{
		Type:         t,
		SubmissionID: snap.ID,
		Amount:       snap.Amount,
		Purpose:      snap.Purpose,
		OccurredAt:   s.now(),
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.publisher.Publish(ctx, event); err != nil {
		log.WithError(err).WithField("submission_id", snap.ID).Error("Failed to publish submission event")
	}
}
