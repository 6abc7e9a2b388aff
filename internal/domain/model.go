package domain

import (
	"database/sql"
	"time"
)

type Condition string

const (
	ConditionNone    Condition = "none"
	ConditionPresent Condition = "present"
)

// NoneText is substituted for empty optional values in the document and review page.
const NoneText = "なし"

const (
	DocumentFilename    = "寄附申込書.docx"
	DocumentContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// FormInput holds the raw values of one form submission.
type FormInput struct {
	Date            time.Time
	Name            string
	PostalCode      string
	Address1        string
	Address2        string
	Email           string
	AmountOption    string
	CustomAmount    int
	Purpose         string
	Condition       Condition
	ConditionDetail string
	Comment         string
}

// FormSnapshot is captured once when the donor confirms their input.
// It is passed by value and never modified afterwards.
type FormSnapshot struct {
	ID              string
	CapturedAt      time.Time
	Date            time.Time
	Name            string
	PostalCode      string
	Address1        string
	Address2        string
	Email           string
	Amount          int
	Purpose         string
	Condition       Condition
	ConditionDetail string
	Comment         string
}

type GeneratedDocument struct {
	Filename    string
	ContentType string
	Data        []byte
}

type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

type OutgoingEmail struct {
	From       string
	To         string
	Cc         string
	Subject    string
	Body       string
	Attachment Attachment
}

type EmailStatus string

const (
	StatusSent   EmailStatus = "sent"
	StatusFailed EmailStatus = "failed"
	// StatusUnknown records a send whose acceptance the server never confirmed.
	StatusUnknown EmailStatus = "unknown"
)

type SubmissionLog struct {
	SubmissionID   string
	RecipientEmail string
	CcEmail        string
	Subject        string
	Amount         int
	Status         EmailStatus
	ErrorMessage   sql.NullString
}

type EventType string

const (
	EventDocumentGenerated EventType = "document_generated"
	EventEmailSent         EventType = "email_sent"
)

type SubmissionEvent struct {
	Type         EventType `json:"type"`
	SubmissionID string    `json:"submission_id"`
	Amount       int       `json:"amount"`
	Purpose      string    `json:"purpose"`
	OccurredAt   time.Time `json:"occurred_at"`
}
