package schema

import (
	"encoding/json"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggoodman/mcp-dispatch-go/mcperr"
)

func calculateParams() Params {
	return Params{
		{Name: "operation", Type: TypeString, Required: true, Pattern: `^(add|subtract|multiply|divide)$`},
		{Name: "a", Type: TypeFloat, Required: true},
		{Name: "b", Type: TypeFloat, Required: true},
	}
}

func requireValidation(t *testing.T, err error) *mcperr.Error {
	t.Helper()
	require.Error(t, err)
	e, ok := mcperr.As(err)
	require.True(t, ok, "expected *mcperr.Error, got %T", err)
	require.Equal(t, mcperr.CodeValidation, e.Code)
	return e
}

func TestValidateStructuredSuccessTypes(t *testing.T) {
	ps := Params{
		{Name: "count", Type: TypeInteger, Required: true, Minimum: Ptr(1), Maximum: Ptr(10)},
		{Name: "ratio", Type: TypeFloat, Required: true},
		{Name: "verbose", Type: TypeBoolean},
		{Name: "label", Type: TypeString, Default: "none"},
		{Name: "tags", Type: TypeSequence, Items: &Param{Type: TypeString}},
		{Name: "limits", Type: TypeMapping, Values: &Param{Type: TypeInteger}},
		{Name: "owner", Type: TypeRecord, Fields: Params{
			{Name: "id", Type: TypeInteger, Required: true},
			{Name: "name", Type: TypeString},
		}},
	}
	require.NoError(t, ps.Check())

	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{
		"count": 3, "ratio": 2, "verbose": true,
		"tags": ["x", "y"], "limits": {"cpu": 4},
		"owner": {"id": 7, "name": "ada"}
	}`), &raw))

	got, err := Validate(ps, raw, ModeStructured)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got["count"])
	assert.Equal(t, float64(2), got["ratio"])
	assert.Equal(t, true, got["verbose"])
	assert.Equal(t, "none", got["label"])
	assert.Equal(t, []any{"x", "y"}, got["tags"])
	assert.Equal(t, map[string]any{"cpu": int64(4)}, got["limits"])
	assert.Equal(t, map[string]any{"id": int64(7), "name": "ada"}, got["owner"])
}

func TestValidateMissingRequiredNamesField(t *testing.T) {
	_, err := Validate(calculateParams(), map[string]any{"operation": "add", "a": 1.0}, ModeStructured)
	e := requireValidation(t, err)
	require.Len(t, e.Fields, 1)
	assert.Equal(t, "b", e.Fields[0].Path)
	assert.Equal(t, mcperr.ReasonMissingRequired, e.Fields[0].Reason)
}

func TestValidateCollectsIndependentFailures(t *testing.T) {
	raw := map[string]any{"operation": "mod", "a": "four"}
	_, err := Validate(calculateParams(), raw, ModeStructured)
	e := requireValidation(t, err)
	require.Len(t, e.Fields, 3)
	assert.Equal(t, mcperr.FieldError{Path: "operation", Reason: mcperr.ReasonPatternMismatch, Message: e.Fields[0].Message}, e.Fields[0])
	assert.Equal(t, "a", e.Fields[1].Path)
	assert.Equal(t, mcperr.ReasonTypeMismatch, e.Fields[1].Reason)
	assert.Equal(t, "b", e.Fields[2].Path)
	assert.Equal(t, mcperr.ReasonMissingRequired, e.Fields[2].Reason)
}

func TestValidateDivideByZeroPassesValidation(t *testing.T) {
	got, err := Validate(calculateParams(), map[string]any{"operation": "divide", "a": 4, "b": 0}, ModeStructured)
	require.NoError(t, err)
	assert.Equal(t, float64(4), got.Float("a"))
	assert.Equal(t, float64(0), got.Float("b"))
	assert.Equal(t, "divide", got.String("operation"))
}

func TestValidateTextStrictGrammar(t *testing.T) {
	ps := Params{
		{Name: "n", Type: TypeInteger, Required: true},
		{Name: "f", Type: TypeFloat, Required: true},
		{Name: "b", Type: TypeBoolean, Required: true},
	}
	got, err := ValidateText(ps, map[string]string{"n": "-42", "f": "1.5e3", "b": "false"})
	require.NoError(t, err)
	assert.Equal(t, int64(-42), got.Int("n"))
	assert.Equal(t, 1500.0, got.Float("f"))
	assert.Equal(t, false, got["b"])

	for _, tc := range []struct {
		name string
		raw  map[string]string
		bad  string
	}{
		{"int with space", map[string]string{"n": " 1", "f": "1", "b": "true"}, "n"},
		{"int as float", map[string]string{"n": "1.0", "f": "1", "b": "true"}, "n"},
		{"hex float", map[string]string{"n": "1", "f": "0x10", "b": "true"}, "f"},
		{"nan", map[string]string{"n": "1", "f": "NaN", "b": "true"}, "f"},
		{"inf", map[string]string{"n": "1", "f": "Inf", "b": "true"}, "f"},
		{"bool case", map[string]string{"n": "1", "f": "1", "b": "True"}, "b"},
		{"bool digit", map[string]string{"n": "1", "f": "1", "b": "1"}, "b"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateText(ps, tc.raw)
			e := requireValidation(t, err)
			require.Len(t, e.Fields, 1)
			assert.Equal(t, tc.bad, e.Fields[0].Path)
			assert.Equal(t, mcperr.ReasonTypeMismatch, e.Fields[0].Reason)
		})
	}
}

func TestValidateTextRejectsStructuredTypes(t *testing.T) {
	ps := Params{{Name: "tags", Type: TypeSequence, Required: true}}
	_, err := ValidateText(ps, map[string]string{"tags": "a,b"})
	e := requireValidation(t, err)
	assert.True(t, e.HasReason("tags", mcperr.ReasonTypeMismatch))
}

func TestConstraintOrder(t *testing.T) {
	// A value outside the choices is reported as NotInChoices even when it
	// also violates the range.
	ps := Params{{Name: "level", Type: TypeInteger, Required: true, Choices: []any{1, 2, 3}, Maximum: Ptr(3)}}
	_, err := Validate(ps, map[string]any{"level": 9}, ModeStructured)
	e := requireValidation(t, err)
	assert.Equal(t, mcperr.ReasonNotInChoices, e.Fields[0].Reason)

	ps = Params{{Name: "code", Type: TypeString, Required: true, Choices: []any{"ab", "abc"}, Pattern: `a.`}}
	_, err = Validate(ps, map[string]any{"code": "abc"}, ModeStructured)
	e = requireValidation(t, err)
	assert.Equal(t, mcperr.ReasonPatternMismatch, e.Fields[0].Reason, "pattern must match the full string")

	got, err := Validate(ps, map[string]any{"code": "ab"}, ModeStructured)
	require.NoError(t, err)
	assert.Equal(t, "ab", got.String("code"))
}

func TestRangeBoundsAreOptional(t *testing.T) {
	ps := Params{{Name: "x", Type: TypeFloat, Required: true, Minimum: Ptr(0)}}
	_, err := Validate(ps, map[string]any{"x": 1e9}, ModeStructured)
	require.NoError(t, err)
	_, err = Validate(ps, map[string]any{"x": -0.5}, ModeStructured)
	e := requireValidation(t, err)
	assert.Equal(t, mcperr.ReasonOutOfRange, e.Fields[0].Reason)
}

func TestDefaultsAreNotChecked(t *testing.T) {
	ps := Params{{Name: "n", Type: TypeInteger, Default: 50, Maximum: Ptr(10)}}
	require.NoError(t, ps.Check())
	got, err := Validate(ps, map[string]any{}, ModeStructured)
	require.NoError(t, err)
	assert.Equal(t, int64(50), got.Int("n"))
}

func TestNestedErrorPaths(t *testing.T) {
	ps := Params{
		{Name: "owner", Type: TypeRecord, Required: true, Fields: Params{
			{Name: "id", Type: TypeInteger, Required: true},
		}},
		{Name: "scores", Type: TypeSequence, Items: &Param{Type: TypeFloat, Minimum: Ptr(0)}},
	}
	raw := map[string]any{
		"owner":  map[string]any{"extra": 1},
		"scores": []any{1.0, -2.0, "x"},
	}
	_, err := Validate(ps, raw, ModeStructured)
	e := requireValidation(t, err)
	var paths []string
	for _, f := range e.Fields {
		paths = append(paths, f.Path+":"+string(f.Reason))
	}
	assert.Equal(t, []string{
		"owner.id:MissingRequired",
		"owner.extra:TypeMismatch",
		"scores[1]:OutOfRange",
		"scores[2]:TypeMismatch",
	}, paths)
}

func TestUnknownArguments(t *testing.T) {
	ps := Params{{Name: "a", Type: TypeString}}
	_, err := Validate(ps, map[string]any{"a": "x", "zzz": 1}, ModeStructured)
	e := requireValidation(t, err)
	assert.True(t, e.HasReason("zzz", mcperr.ReasonTypeMismatch))

	got, err := Validate(ps, map[string]any{"a": "x", "zzz": 1}, ModeStructured, AllowUnknown())
	require.NoError(t, err)
	assert.False(t, got.Has("zzz"))
}

func TestStructuredIntegers(t *testing.T) {
	ps := Params{{Name: "n", Type: TypeInteger, Required: true}}
	got, err := Validate(ps, map[string]any{"n": json.Number("12")}, ModeStructured)
	require.NoError(t, err)
	assert.Equal(t, int64(12), got.Int("n"))

	_, err = Validate(ps, map[string]any{"n": 1.5}, ModeStructured)
	requireValidation(t, err)

	_, err = Validate(ps, map[string]any{"n": "12"}, ModeStructured)
	requireValidation(t, err)
}

func TestCheckInvariants(t *testing.T) {
	for _, tc := range []struct {
		name string
		ps   Params
	}{
		{"default on required", Params{{Name: "a", Type: TypeString, Required: true, Default: "x"}}},
		{"pattern on integer", Params{{Name: "a", Type: TypeInteger, Pattern: "[0-9]+"}}},
		{"range on string", Params{{Name: "a", Type: TypeString, Minimum: Ptr(1)}}},
		{"min above max", Params{{Name: "a", Type: TypeFloat, Minimum: Ptr(2), Maximum: Ptr(1)}}},
		{"bad choice", Params{{Name: "a", Type: TypeInteger, Choices: []any{"one"}}}},
		{"bad default", Params{{Name: "a", Type: TypeBoolean, Default: "yes"}}},
		{"duplicate", Params{{Name: "a", Type: TypeString}, {Name: "a", Type: TypeString}}},
		{"unknown type", Params{{Name: "a", Type: "decimal"}}},
		{"bad pattern", Params{{Name: "a", Type: TypeString, Pattern: "("}}},
		{"nested on flat", Params{{Name: "a", Type: TypeString, Items: &Param{Type: TypeString}}}},
		{"nested duplicate", Params{{Name: "r", Type: TypeRecord, Fields: Params{{Name: "x", Type: TypeString}, {Name: "x", Type: TypeString}}}}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.ps.Check()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidParam))
		})
	}
}

func TestCoerceText(t *testing.T) {
	v, err := CoerceText(TypeInteger, "+7")
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	_, err = CoerceText(TypeInteger, "99999999999999999999")
	require.Error(t, err)
}
