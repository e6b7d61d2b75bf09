package gridcheck

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ausseabed/mbesgc-go/internal/model"
)

func TestGetParam(t *testing.T) {
	params := []model.CheckParam{
		{Name: "Threshold Depth", Value: 40.0},
	}

	v, ok := GetParam(params, "Threshold Depth")
	assert.True(t, ok)
	assert.Equal(t, 40.0, v)

	_, ok = GetParam(params, "Missing")
	assert.False(t, ok)
}

func TestParamFloatCoercesNumericTypes(t *testing.T) {
	params := []model.CheckParam{
		{Name: "a", Value: float64(1.5)},
		{Name: "b", Value: float32(2.5)},
		{Name: "c", Value: int(3)},
		{Name: "d", Value: int64(4)},
		{Name: "e", Value: "not a number"},
	}

	assert.Equal(t, 1.5, ParamFloat(params, "a", 0))
	assert.Equal(t, 2.5, ParamFloat(params, "b", 0))
	assert.Equal(t, 3.0, ParamFloat(params, "c", 0))
	assert.Equal(t, 4.0, ParamFloat(params, "d", 0))
	assert.Equal(t, 9.0, ParamFloat(params, "e", 9.0))
	assert.Equal(t, 7.0, ParamFloat(params, "missing", 7.0))
}

func TestRegisterAndLookup(t *testing.T) {
	const id = "test-registry-id"
	called := false
	Register(id, func(params []model.CheckParam) Check {
		called = true
		return nil
	})

	ctor, ok := Lookup(id)
	assert.True(t, ok)
	ctor(nil)
	assert.True(t, called)

	_, ok = Lookup("does-not-exist")
	assert.False(t, ok)
}
