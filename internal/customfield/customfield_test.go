package customfield

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSchemaRejectsBadDeclarations(t *testing.T) {
	cases := []struct {
		name   string
		fields []Field
	}{
		{"empty key", []Field{{Key: " ", Type: TypeText}}},
		{"duplicate", []Field{{Key: "a", Type: TypeText}, {Key: "a", Type: TypeBool}}},
		{"choice without choices", []Field{{Key: "a", Type: TypeChoice}}},
		{"unknown type", []Field{{Key: "a", Type: "json"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewSchema(tc.fields...)
			assert.ErrorIs(t, err, ErrInvalidSchema)
		})
	}
}

func TestParseCoercesJSONValues(t *testing.T) {
	s := DefaultSchema()
	vals, err := s.Parse(map[string]any{
		"event_type":  "wedding",
		"guest_count": float64(250),
		"event_date":  "2026-06-14",
		"catering":    true,
		"notes":       nil,
	})
	require.NoError(t, err)

	assert.Equal(t, TypeChoice, vals["event_type"].Type)
	assert.Equal(t, "250", vals["guest_count"].Number.String())
	assert.Equal(t, 14, vals["event_date"].Date.Day())
	assert.True(t, *vals["catering"].Bool)
	assert.NotContains(t, vals, "notes", "null clears a field")

	assert.Equal(t, map[string]any{
		"event_type":  "wedding",
		"guest_count": "250",
		"event_date":  "2026-06-14",
		"catering":    true,
	}, vals.Raw())
}

func TestParseRejections(t *testing.T) {
	s := DefaultSchema()
	cases := []struct {
		name string
		in   map[string]any
		want error
	}{
		{"unknown key", map[string]any{"color": "red"}, ErrUnknownField},
		{"bad choice", map[string]any{"event_type": "funeral"}, ErrInvalidChoice},
		{"number as bool", map[string]any{"guest_count": true}, ErrTypeMismatch},
		{"bad date", map[string]any{"event_date": "14/06/2026"}, ErrTypeMismatch},
		{"bool as string", map[string]any{"catering": "yes"}, ErrTypeMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Parse(tc.in)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestRequiredFields(t *testing.T) {
	s, err := NewSchema(Field{Key: "contact", Type: TypeText, Required: true})
	require.NoError(t, err)

	_, err = s.Parse(map[string]any{})
	assert.ErrorIs(t, err, ErrRequired)

	_, err = s.Parse(map[string]any{"contact": "Ayse"})
	assert.NoError(t, err)
}

func TestStoreValidatesAndCopies(t *testing.T) {
	ctx := context.Background()
	st := NewStore(DefaultSchema())

	assert.Empty(t, st.Get(ctx, "R1"))

	vals, err := st.Schema().Parse(map[string]any{"guest_count": "120"})
	require.NoError(t, err)
	require.NoError(t, st.Put(ctx, "R1", vals))

	got := st.Get(ctx, "R1")
	delete(got, "guest_count")
	assert.Len(t, st.Get(ctx, "R1"), 1, "Get returns a copy")

	text := "x"
	err = st.Put(ctx, "R1", Values{"guest_count": {Type: TypeText, Text: &text}})
	assert.ErrorIs(t, err, ErrTypeMismatch)
	assert.Error(t, st.Put(ctx, "", vals))
}
