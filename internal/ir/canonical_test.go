package ir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", Text("hello"), `"hello"`},
		{"empty string", Text(""), `""`},
		{"int", Int(42), "42"},
		{"negative int", Int(-100), "-100"},
		{"max int64", Int(9223372036854775807), "9223372036854775807"},
		{"real", Real(0.5), "0.5"},
		{"integral real", Real(3), "3"},
		{"nan", Real(math.NaN()), `"NaN"`},
		{"inf", Real(math.Inf(1)), `"+Inf"`},
		{"bool true", Bool(true), "true"},
		{"null", Null{}, "null"},
		{"empty object", Object{}, "{}"},
		{"simple object", Object{"a": Int(1)}, `{"a":1}`},
		{"vector", Vector(1, 2.5), `{"data":[1,2.5],"dtype":"float64","shape":[2]}`},
		{"int vector", IntVector(3, 4), `{"data":[3,4],"dtype":"int64","shape":[2]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	obj := Object{
		"zebra": Int(1),
		"alpha": Int(2),
		"beta":  Int(3),
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"beta":3,"zebra":1}`, string(result))
}

func TestMarshalCanonicalNestedMaps(t *testing.T) {
	input := map[string]any{
		"z": map[string]any{"b": 1, "a": "x"},
		"a": []any{Int(1), Text("two")},
	}

	result, err := MarshalCanonical(input)
	require.NoError(t, err)
	assert.Equal(t, `{"a":[1,"two"],"z":{"a":"x","b":1}}`, string(result))
}

func TestMarshalCanonicalNoHTMLEscape(t *testing.T) {
	result, err := MarshalCanonical(Text("<a & b>"))
	require.NoError(t, err)
	assert.Equal(t, `"<a & b>"`, string(result))
}

func TestMarshalCanonicalNFCNormalization(t *testing.T) {
	// "e" + combining acute accent normalizes to the precomposed form
	result, err := MarshalCanonical(Text("e\u0301"))
	require.NoError(t, err)
	assert.Equal(t, "\"\u00e9\"", string(result))
}

func TestMarshalCanonicalU2028U2029NotEscaped(t *testing.T) {
	result, err := MarshalCanonical(Text("a\u2028b\u2029c"))
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\u2029c\"", string(result))
	assert.NotContains(t, string(result), `\u2028`)
	assert.NotContains(t, string(result), `\u2029`)
}

func TestMarshalCanonicalLiteralBackslashU2028(t *testing.T) {
	result, err := MarshalCanonical(Text(`the escape sequence is \u2028`))
	require.NoError(t, err)
	assert.Equal(t, `"the escape sequence is \\u2028"`, string(result))
}

func TestMarshalCanonicalRejectsModels(t *testing.T) {
	_, err := MarshalCanonical(Model{M: namedModel("PCA")})
	require.Error(t, err)

	_, err = MarshalCanonical(struct{}{})
	require.Error(t, err)
}

func TestMarshalCanonicalIdempotency(t *testing.T) {
	obj := Object{"b": Vector(1, 2), "a": Text("x"), "c": Bool(false)}
	first, err := MarshalCanonical(obj)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := MarshalCanonical(obj)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
