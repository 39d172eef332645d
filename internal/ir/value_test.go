package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedModel string

func (n namedModel) TypeName() string { return string(n) }

func TestValueSealed(t *testing.T) {
	// Verify all types implement Value (compile-time check via assignment)
	var _ Value = Null{}
	var _ Value = Int(1)
	var _ Value = Real(1.5)
	var _ Value = Text("x")
	var _ Value = Bool(true)
	var _ Value = Vector(1, 2)
	var _ Value = Model{M: namedModel("PCA")}
	var _ Value = ModelList{namedModel("PCA")}
}

func TestKindString(t *testing.T) {
	for k, name := range kindNames {
		assert.Equal(t, name, k.String())
		parsed, err := ParseKind(name)
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
	_, err := ParseKind("complex")
	assert.Error(t, err)
}

func TestKindIsScalar(t *testing.T) {
	assert.True(t, KindInt.IsScalar())
	assert.True(t, KindReal.IsScalar())
	assert.True(t, KindText.IsScalar())
	assert.True(t, KindBool.IsScalar())
	assert.False(t, KindArray.IsScalar())
	assert.False(t, KindModel.IsScalar())
	assert.False(t, KindNull.IsScalar())
}

func TestIsNull(t *testing.T) {
	assert.True(t, IsNull(nil))
	assert.True(t, IsNull(Null{}))
	assert.True(t, IsNull(Model{}))
	assert.False(t, IsNull(Int(0)))
	assert.False(t, IsNull(Text("")))
}

func TestObjectSortedKeys(t *testing.T) {
	obj := Object{"zebra": Int(1), "apple": Int(2), "banana": Int(3)}
	assert.Equal(t, []string{"apple", "banana", "zebra"}, obj.SortedKeys())
	assert.Empty(t, Object{}.SortedKeys())
}

func TestOf(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected Value
	}{
		{"nil", nil, Null{}},
		{"int", 3, Int(3)},
		{"int64", int64(-4), Int(-4)},
		{"float", 2.5, Real(2.5)},
		{"string", "euclidean", Text("euclidean")},
		{"bool", true, Bool(true)},
		{"value passthrough", Real(1), Real(1)},
		{"float slice", []float64{1, 2}, Vector(1, 2)},
		{"int slice", []int{1, 2}, IntVector(1, 2)},
		{"yaml int list", []any{1, 2, 3}, IntVector(1, 2, 3)},
		{"yaml float list", []any{1, 2.5}, Vector(1, 2.5)},
		{"yaml nested list", []any{[]any{0, 1}, []any{2, 3}}, MustArray(Int64, []int{2, 2}, []float64{0, 1, 2, 3})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Of(tt.input)
			require.NoError(t, err)
			assert.True(t, Equal(tt.expected, v), "got %#v", v)
		})
	}
}

func TestOfModel(t *testing.T) {
	v, err := Of(namedModel("KCenters"))
	require.NoError(t, err)
	require.Equal(t, KindModel, v.Kind())
	assert.Equal(t, "KCenters", v.(Model).M.TypeName())
}

func TestOfRejectsUnsupported(t *testing.T) {
	_, err := Of(map[string]int{"a": 1})
	assert.Error(t, err)

	_, err = Of([]any{[]any{1, 2}, []any{3}})
	assert.Error(t, err, "ragged rows")

	_, err = Of([]any{"a"})
	assert.Error(t, err)
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(Null{}, nil))
	assert.True(t, Equal(Int(1), Int(1)))
	assert.False(t, Equal(Int(1), Real(1)))
	assert.False(t, Equal(Int(1), Null{}))
	assert.True(t, Equal(Vector(1, 2), Vector(1, 2)))
	assert.False(t, Equal(Vector(1, 2), IntVector(1, 2)))
	assert.True(t, Equal(ModelList{namedModel("A")}, ModelList{namedModel("A")}))
	assert.False(t, Equal(ModelList{namedModel("A")}, ModelList{namedModel("B")}))
}
