package form

import (
	"fmt"
	"html"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"donation-service/internal/domain"
	"donation-service/internal/validator"
)

const dateLayout = "2006-01-02"

var textPolicy = bluemonday.StrictPolicy()

// Parser reads submitted form values into a FormInput.
type Parser struct {
	schema *Schema
	now    func() time.Time
}

func NewParser(schema *Schema) *Parser {
	return &Parser{schema: schema, now: time.Now}
}

// Defaults returns the values the empty form is pre-filled with.
func (p *Parser) Defaults() domain.FormInput {
	return domain.FormInput{
		Date:         dateOnly(p.now()),
		AmountOption: p.schema.Amount.Default,
		CustomAmount: p.schema.Amount.CustomDefault,
		Purpose:      p.schema.Purposes[0],
		Condition:    domain.ConditionNone,
	}
}

// Parse converts posted values. Only values that cannot be represented at all
// (bad date, non-numeric custom amount) fail here; content rules are checked at confirmation.
func (p *Parser) Parse(values url.Values) (domain.FormInput, error) {
	in := p.Defaults()

	if raw := strings.TrimSpace(values.Get("date")); raw != "" {
		d, err := time.ParseInLocation(dateLayout, raw, time.Local)
		if err != nil {
			return in, validator.Field("date", fmt.Errorf("parse date %q: %w", raw, err))
		}
		in.Date = d
	}

	in.Name = clean(values.Get("name"))
	in.PostalCode = validator.NormalizePostalCode(clean(values.Get("postal_code")))
	in.Address1 = clean(values.Get("address1"))
	in.Address2 = clean(values.Get("address2"))
	in.Email = clean(values.Get("email"))

	if v := values.Get("amount_option"); v != "" {
		in.AmountOption = v
	}
	if raw := strings.TrimSpace(values.Get("custom_amount")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return in, validator.Field("custom_amount", fmt.Errorf("parse custom amount %q: %w", raw, err))
		}
		in.CustomAmount = n
	}

	if v := values.Get("purpose"); v != "" {
		in.Purpose = v
	}
	in.Condition = domain.Condition(values.Get("condition"))
	if in.Condition == "" {
		in.Condition = domain.ConditionNone
	}
	if in.Condition == domain.ConditionPresent {
		in.ConditionDetail = clean(values.Get("condition_detail"))
	}
	in.Comment = cleanMultiline(values.Get("comment"))
	return in, nil
}

// clean strips markup; the policy escapes text, so entities are decoded back afterwards.
func clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(s)))
}

func cleanMultiline(s string) string {
	return clean(strings.ReplaceAll(s, "\r\n", "\n"))
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
