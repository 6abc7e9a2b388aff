package form

import (
	"errors"
	"slices"
	"strconv"
	"strings"

	"donation-service/internal/validator"
)

const yenSuffix = "円"

// AmountResolver turns the selected amount option into a yen amount.
type AmountResolver struct {
	presets []string
	custom  string
}

func NewAmountResolver(a AmountSchema) *AmountResolver {
	return &AmountResolver{presets: slices.Clone(a.Presets), custom: a.CustomLabel}
}

// IsCustom reports whether option is the free-entry sentinel.
func (r *AmountResolver) IsCustom(option string) bool {
	return option == r.custom
}

// Resolve returns the amount encoded in a preset label, or custom verbatim when the
// custom sentinel is selected. The custom value is not re-validated here.
func (r *AmountResolver) Resolve(option string, custom int) (int, error) {
	if r.IsCustom(option) {
		return custom, nil
	}
	if !slices.Contains(r.presets, option) {
		return 0, validator.Field("amount_option", validator.ErrUnknownAmountOption)
	}
	amount, err := parsePresetLabel(option)
	if err != nil {
		return 0, validator.Field("amount_option", err)
	}
	return amount, nil
}

// parsePresetLabel parses labels such as "10,000 円" or "3,000円".
func parsePresetLabel(label string) (int, error) {
	s := strings.ReplaceAll(label, ",", "")
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, yenSuffix)
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, validator.ErrUnknownAmountOption
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, errors.Join(validator.ErrUnknownAmountOption, err)
	}
	return n, nil
}
