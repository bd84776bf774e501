// Package customfield keeps typed, schema-checked metadata for reservations. It knows nothing
// about the ledger; settlement never reads it.
package customfield

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// FieldType tags the value a field holds
type FieldType string

const (
	TypeText   FieldType = "text"
	TypeNumber FieldType = "number"
	TypeBool   FieldType = "bool"
	TypeDate   FieldType = "date"
	TypeChoice FieldType = "choice"
)

// DateLayout is the wire format of date fields
const DateLayout = "2006-01-02"

var (
	ErrUnknownField  = errors.New("unknown custom field")
	ErrRequired      = errors.New("required custom field missing")
	ErrTypeMismatch  = errors.New("custom field value has the wrong type")
	ErrInvalidChoice = errors.New("custom field value is not an allowed choice")
	ErrInvalidSchema = errors.New("invalid custom field schema")
)

// Field declares one key of the schema.
type Field struct {
	Key      string    `json:"key"`
	Label    string    `json:"label"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
	Choices  []string  `json:"choices,omitempty"` // TypeChoice only
}

// Value is a tagged field value; exactly one of the typed members is set.
type Value struct {
	Type   FieldType        `json:"type"`
	Text   *string          `json:"text,omitempty"`
	Number *decimal.Decimal `json:"number,omitempty"`
	Bool   *bool            `json:"bool,omitempty"`
	Date   *time.Time       `json:"date,omitempty"`
}

// Values maps field keys to their values.
type Values map[string]Value

type Schema struct {
	fields map[string]Field
	order  []string
}

// NewSchema checks the declarations: keys must be unique and non-empty, choice fields need choices.
func NewSchema(fields ...Field) (*Schema, error) {
	s := &Schema{fields: make(map[string]Field, len(fields))}
	for _, f := range fields {
		f.Key = strings.TrimSpace(f.Key)
		if f.Key == "" {
			return nil, fmt.Errorf("%w: empty key", ErrInvalidSchema)
		}
		if _, dup := s.fields[f.Key]; dup {
			return nil, fmt.Errorf("%w: duplicate key %q", ErrInvalidSchema, f.Key)
		}
		switch f.Type {
		case TypeText, TypeNumber, TypeBool, TypeDate:
		case TypeChoice:
			if len(f.Choices) == 0 {
				return nil, fmt.Errorf("%w: choice field %q has no choices", ErrInvalidSchema, f.Key)
			}
		default:
			return nil, fmt.Errorf("%w: field %q has unknown type %q", ErrInvalidSchema, f.Key, f.Type)
		}
		s.fields[f.Key] = f
		s.order = append(s.order, f.Key)
	}
	return s, nil
}

// Fields returns the declarations in declaration order
func (s *Schema) Fields() []Field {
	out := make([]Field, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.fields[k])
	}
	return out
}

// Parse converts loosely typed input (as decoded from JSON) into tagged values and validates them.
func (s *Schema) Parse(raw map[string]any) (Values, error) {
	vals := make(Values, len(raw))
	for key, in := range raw {
		f, ok := s.fields[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownField, key)
		}
		if in == nil {
			continue
		}
		v, err := coerce(f, in)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		vals[key] = v
	}
	if err := s.Validate(vals); err != nil {
		return nil, err
	}
	return vals, nil
}

// Validate checks every value against its declaration and that required fields are present.
func (s *Schema) Validate(vals Values) error {
	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		f, ok := s.fields[key]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownField, key)
		}
		if err := check(f, vals[key]); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	for _, key := range s.order {
		if !s.fields[key].Required {
			continue
		}
		if _, ok := vals[key]; !ok {
			return fmt.Errorf("%w: %s", ErrRequired, key)
		}
	}
	return nil
}

func check(f Field, v Value) error {
	if v.Type != f.Type {
		return ErrTypeMismatch
	}
	switch f.Type {
	case TypeText:
		if v.Text == nil {
			return ErrTypeMismatch
		}
	case TypeNumber:
		if v.Number == nil {
			return ErrTypeMismatch
		}
	case TypeBool:
		if v.Bool == nil {
			return ErrTypeMismatch
		}
	case TypeDate:
		if v.Date == nil {
			return ErrTypeMismatch
		}
	case TypeChoice:
		if v.Text == nil {
			return ErrTypeMismatch
		}
		for _, c := range f.Choices {
			if c == *v.Text {
				return nil
			}
		}
		return ErrInvalidChoice
	}
	return nil
}

func coerce(f Field, in any) (Value, error) {
	v := Value{Type: f.Type}
	switch f.Type {
	case TypeText, TypeChoice:
		s, ok := in.(string)
		if !ok {
			return v, ErrTypeMismatch
		}
		v.Text = &s
	case TypeNumber:
		var d decimal.Decimal
		switch n := in.(type) {
		case float64:
			d = decimal.NewFromFloat(n)
		case int:
			d = decimal.NewFromInt(int64(n))
		case string:
			parsed, err := decimal.NewFromString(n)
			if err != nil {
				return v, ErrTypeMismatch
			}
			d = parsed
		case decimal.Decimal:
			d = n
		default:
			return v, ErrTypeMismatch
		}
		v.Number = &d
	case TypeBool:
		b, ok := in.(bool)
		if !ok {
			return v, ErrTypeMismatch
		}
		v.Bool = &b
	case TypeDate:
		switch d := in.(type) {
		case string:
			t, err := time.Parse(DateLayout, d)
			if err != nil {
				return v, ErrTypeMismatch
			}
			v.Date = &t
		case time.Time:
			t := d.UTC().Truncate(24 * time.Hour)
			v.Date = &t
		default:
			return v, ErrTypeMismatch
		}
	}
	return v, nil
}

// Raw renders values back into plain JSON-friendly form.
func (vals Values) Raw() map[string]any {
	out := make(map[string]any, len(vals))
	for k, v := range vals {
		switch {
		case v.Text != nil:
			out[k] = *v.Text
		case v.Number != nil:
			out[k] = v.Number.String()
		case v.Bool != nil:
			out[k] = *v.Bool
		case v.Date != nil:
			out[k] = v.Date.Format(DateLayout)
		}
	}
	return out
}

// Store keeps custom field values per reservation, validated against one schema.
type Store struct {
	schema *Schema
	mu     sync.RWMutex
	byID   map[string]Values
}

func NewStore(schema *Schema) *Store {
	return &Store{schema: schema, byID: make(map[string]Values)}
}

func (s *Store) Schema() *Schema { return s.schema }

// Get returns a copy of the values stored for the reservation; unknown ids yield an empty set.
func (s *Store) Get(_ context.Context, reservationID string) Values {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(Values, len(s.byID[reservationID]))
	for k, v := range s.byID[reservationID] {
		out[k] = v
	}
	return out
}

// Put replaces the reservation's values after validating them as a whole.
func (s *Store) Put(_ context.Context, reservationID string, vals Values) error {
	if strings.TrimSpace(reservationID) == "" {
		return errors.New("empty reservation id")
	}
	if err := s.schema.Validate(vals); err != nil {
		return err
	}
	cp := make(Values, len(vals))
	for k, v := range vals {
		cp[k] = v
	}
	s.mu.Lock()
	s.byID[reservationID] = cp
	s.mu.Unlock()
	return nil
}

// DefaultSchema is the field set the service starts with.
func DefaultSchema() *Schema {
	s, err := NewSchema(
		Field{Key: "event_type", Label: "Event type", Type: TypeChoice, Choices: []string{"wedding", "engagement", "corporate", "other"}},
		Field{Key: "guest_count", Label: "Guest count", Type: TypeNumber},
		Field{Key: "event_date", Label: "Event date", Type: TypeDate},
		Field{Key: "catering", Label: "Catering included", Type: TypeBool},
		Field{Key: "notes", Label: "Notes", Type: TypeText},
	)
	if err != nil {
		panic(err)
	}
	return s
}
