package form

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"donation-service/internal/domain"
)

//go:embed schema.yaml
var defaultSchema []byte

var ErrInvalidSchema = errors.New("invalid form schema")

type FieldKind string

const (
	KindText     FieldKind = "text"
	KindEmail    FieldKind = "email"
	KindDate     FieldKind = "date"
	KindNumber   FieldKind = "number"
	KindRadio    FieldKind = "radio"
	KindTextarea FieldKind = "textarea"
)

type Field struct {
	Name     string    `yaml:"name"`
	Label    string    `yaml:"label"`
	Kind     FieldKind `yaml:"kind"`
	Required bool      `yaml:"required"`
	MaxChars int       `yaml:"max_chars"`
	Help     string    `yaml:"help"`
}

type AmountSchema struct {
	Presets       []string `yaml:"presets"`
	CustomLabel   string   `yaml:"custom_label"`
	Default       string   `yaml:"default"`
	CustomDefault int      `yaml:"custom_default"`
	CustomMin     int      `yaml:"custom_min"`
	CustomStep    int      `yaml:"custom_step"`
}

// Options returns the preset labels followed by the custom sentinel.
func (a AmountSchema) Options() []string {
	return append(slices.Clone(a.Presets), a.CustomLabel)
}

type ConditionLabels struct {
	None    string `yaml:"none"`
	Present string `yaml:"present"`
}

// Schema describes the donation form: its fields, the amount menu, and the purpose list.
// The order of Purposes is the display order.
type Schema struct {
	Fields     []Field         `yaml:"fields"`
	Amount     AmountSchema    `yaml:"amount"`
	Purposes   []string        `yaml:"purposes"`
	Conditions ConditionLabels `yaml:"conditions"`
}

// DefaultSchema returns the schema embedded in the binary.
func DefaultSchema() (*Schema, error) {
	return ParseSchema(defaultSchema)
}

// LoadSchema reads a schema file, falling back to the embedded schema when path is empty.
func LoadSchema(path string) (*Schema, error) {
	if path == "" {
		return DefaultSchema()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read form schema: %w", err)
	}
	return ParseSchema(data)
}

func ParseSchema(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	if err := s.check(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Schema) check() error {
	switch {
	case len(s.Amount.Presets) == 0:
		return fmt.Errorf("%w: no amount presets", ErrInvalidSchema)
	case s.Amount.CustomLabel == "":
		return fmt.Errorf("%w: no custom amount label", ErrInvalidSchema)
	case s.Amount.Default != "" && !slices.Contains(s.Amount.Options(), s.Amount.Default):
		return fmt.Errorf("%w: default amount %q is not an option", ErrInvalidSchema, s.Amount.Default)
	case len(s.Purposes) != 2:
		return fmt.Errorf("%w: expected 2 purposes, got %d", ErrInvalidSchema, len(s.Purposes))
	case s.Amount.CustomMin < 1:
		return fmt.Errorf("%w: custom amount minimum must be at least 1", ErrInvalidSchema)
	}
	for _, f := range s.Fields {
		switch f.Kind {
		case KindText, KindEmail, KindDate, KindNumber, KindRadio, KindTextarea:
		default:
			return fmt.Errorf("%w: field %q has unknown kind %q", ErrInvalidSchema, f.Name, f.Kind)
		}
	}
	for _, preset := range s.Amount.Presets {
		if _, err := parsePresetLabel(preset); err != nil {
			return fmt.Errorf("%w: preset %q: %v", ErrInvalidSchema, preset, err)
		}
	}
	return nil
}

// Field looks up a field by name.
func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// ConditionLabel returns the display label for c.
func (s *Schema) ConditionLabel(c domain.Condition) string {
	if c == domain.ConditionPresent {
		return s.Conditions.Present
	}
	return s.Conditions.None
}
