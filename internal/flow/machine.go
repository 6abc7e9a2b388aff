// Package flow sequences one donation application from form submission to email dispatch.
package flow

import (
	"bytes"
	"errors"
	"sync"

	"github.com/google/uuid"

	"donation-service/internal/domain"
)

type State int

const (
	Idle State = iota
	Submitted
	Confirmed
	Generated
	Downloaded
	EmailSent
)

var stateNames = [...]string{"idle", "submitted", "confirmed", "generated", "downloaded", "email_sent"}

func (s State) String() string {
	if s < Idle || s > EmailSent {
		return "unknown"
	}
	return stateNames[s]
}

var (
	ErrInvalidTransition = errors.New("action not allowed in current state")
	ErrAlreadySent       = errors.New("application already sent")
	ErrStaleCycle        = errors.New("submission was replaced by a newer one")
)

type (
	FreezeFunc func(domain.FormInput) (domain.FormSnapshot, error)
	RenderFunc func(domain.FormSnapshot) (domain.GeneratedDocument, error)
	SendFunc   func(domain.FormSnapshot, domain.GeneratedDocument) error
)

// View is a consistent copy of the machine taken under its lock.
type View struct {
	State       State
	Cycle       string
	Input       domain.FormInput
	HasInput    bool
	Snapshot    domain.FormSnapshot
	HasSnapshot bool
}

// Machine owns the submission state of one session. Every action other than Submit
// names the cycle it was issued for; actions for a replaced cycle fail with ErrStaleCycle.
type Machine struct {
	mu       sync.Mutex
	state    State
	cycle    string
	input    domain.FormInput
	snapshot domain.FormSnapshot
	document domain.GeneratedDocument
	newCycle func() string
}

func New() *Machine {
	return &Machine{newCycle: uuid.NewString}
}

// Submit stores a fresh set of form values and starts a new cycle. It is allowed from every
// state and clears the snapshot, document and sent status of the previous cycle together.
func (m *Machine) Submit(in domain.FormInput) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cycle = m.newCycle()
	m.input = in
	m.snapshot = domain.FormSnapshot{}
	m.document = domain.GeneratedDocument{}
	m.state = Submitted
	return m.cycle
}

// Confirm freezes the submitted values. Confirming an already confirmed cycle is a no-op.
func (m *Machine) Confirm(cycle string, freeze FreezeFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(cycle, Submitted); err != nil {
		return err
	}
	if m.state > Submitted {
		return nil
	}
	snap, err := freeze(m.input)
	if err != nil {
		return err
	}
	m.snapshot = snap
	m.state = Confirmed
	return nil
}

// Generate renders the confirmed snapshot. On failure the machine stays Confirmed so the
// caller can retry; once generated, further calls are no-ops.
func (m *Machine) Generate(cycle string, render RenderFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(cycle, Confirmed); err != nil {
		return err
	}
	if m.state > Confirmed {
		return nil
	}
	doc, err := render(m.snapshot)
	if err != nil {
		return err
	}
	m.document = doc
	m.state = Generated
	return nil
}

// Download hands out the generated document and records that it was fetched.
func (m *Machine) Download(cycle string) (domain.GeneratedDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(cycle, Generated); err != nil {
		return domain.GeneratedDocument{}, err
	}
	if m.state == Generated {
		m.state = Downloaded
	}
	doc := m.document
	doc.Data = bytes.Clone(doc.Data)
	return doc, nil
}

// Send dispatches the application once per cycle. The lock is held for the duration of send,
// so a concurrent second attempt observes EmailSent and is refused.
func (m *Machine) Send(cycle string, send SendFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(cycle, Downloaded); err != nil {
		return err
	}
	if m.state == EmailSent {
		return ErrAlreadySent
	}
	if err := send(m.snapshot, m.document); err != nil {
		return err
	}
	m.state = EmailSent
	return nil
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return View{
		State:       m.state,
		Cycle:       m.cycle,
		Input:       m.input,
		HasInput:    m.state >= Submitted,
		Snapshot:    m.snapshot,
		HasSnapshot: m.state >= Confirmed,
	}
}

// check requires the machine to have reached at least least for the current cycle.
func (m *Machine) check(cycle string, least State) error {
	if m.state == Idle {
		return ErrInvalidTransition
	}
	if cycle != m.cycle {
		return ErrStaleCycle
	}
	if m.state < least {
		return ErrInvalidTransition
	}
	return nil
}
