package document

import (
	"fmt"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"donation-service/internal/domain"
)

// Placeholders lists every name the donation template must contain.
var Placeholders = []string{
	"date", "name", "address1", "address2", "email", "amount", "purpose", "condition", "other",
}

var amountPrinter = message.NewPrinter(language.Japanese)

// Formatter projects snapshots into template values.
// ZeroPadDate is decided once at startup.
type Formatter struct {
	ResearcherName string
	ZeroPadDate    bool
}

func (f Formatter) Date(t time.Time) string {
	if f.ZeroPadDate {
		return fmt.Sprintf("%d年%02d月%02d日", t.Year(), int(t.Month()), t.Day())
	}
	return fmt.Sprintf("%d年%d月%d日", t.Year(), int(t.Month()), t.Day())
}

// Amount formats with thousands separators, e.g. 10000 -> "10,000".
func (f Formatter) Amount(n int) string {
	return amountPrinter.Sprintf("%d", n)
}

func (f Formatter) Purpose(purpose string) string {
	return fmt.Sprintf("研究者へ［%s／%s］", f.ResearcherName, purpose)
}

func (f Formatter) Address1(s domain.FormSnapshot) string {
	return fmt.Sprintf("〒%s %s", s.PostalCode, s.Address1)
}

func (f Formatter) Condition(s domain.FormSnapshot) string {
	if s.Condition == domain.ConditionPresent {
		return s.ConditionDetail
	}
	return domain.NoneText
}

func (f Formatter) Comment(s domain.FormSnapshot) string {
	if s.Comment == "" {
		return domain.NoneText
	}
	return s.Comment
}

// Context builds the flat placeholder mapping for s.
func (f Formatter) Context(s domain.FormSnapshot) map[string]string {
	return map[string]string{
		"date":      f.Date(s.Date),
		"name":      s.Name,
		"address1":  f.Address1(s),
		"address2":  s.Address2,
		"email":     s.Email,
		"amount":    f.Amount(s.Amount),
		"purpose":   f.Purpose(s.Purpose),
		"condition": f.Condition(s),
		"other":     f.Comment(s),
	}
}
