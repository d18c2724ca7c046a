package spr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/snacdecomp/decomp"
	"github.com/notargets/snacdecomp/element"
)

func TestRegister(t *testing.T) {
	reg := NewRegistry()
	v, err := reg.Register(NodeKind, "velocity", 3)
	require.NoError(t, err)
	p, err := reg.Register(NodeKind, "pressure", 1)
	require.NoError(t, err)
	s, err := reg.Register(ElementKind, "stress", 6)
	require.NoError(t, err)

	assert.Equal(t, 0, v.Offset())
	assert.Equal(t, 3, p.Offset())
	assert.Equal(t, 4, reg.NodeStride())
	assert.Equal(t, 6*element.TetrahedraCount, s.Width())
	assert.Equal(t, 60, reg.ElementStride())
	assert.Same(t, p, reg.Field(NodeKind, "pressure"))
	assert.Nil(t, reg.Field(ElementKind, "pressure"))
	assert.Equal(t, []*Field{v, p}, reg.Fields(NodeKind))

	// The same name may live on both kinds
	_, err = reg.Register(ElementKind, "pressure", 1)
	assert.NoError(t, err)

	_, err = reg.Register(NodeKind, "velocity", 3)
	assert.True(t, errors.Is(err, decomp.ErrConfig))
	_, err = reg.Register(NodeKind, "empty", 0)
	assert.True(t, errors.Is(err, decomp.ErrConfig))
	_, err = reg.Register(EntityKind(7), "odd", 1)
	assert.True(t, errors.Is(err, decomp.ErrConfig))
}

func TestAddRules(t *testing.T) {
	reg := NewRegistry()
	e, _ := reg.Register(ElementKind, "strain", 6)
	n, _ := reg.Register(NodeKind, "strainSPR", 6)
	one, _ := reg.Register(NodeKind, "scalar", 1)

	require.NoError(t, reg.AddRecovery(RecoveryRule{Element: e, Node: n}))
	assert.True(t, errors.Is(reg.AddRecovery(RecoveryRule{Element: e, Node: one}), decomp.ErrConfig))
	assert.True(t, errors.Is(reg.AddRecovery(RecoveryRule{Element: n, Node: e}), decomp.ErrConfig))
	assert.True(t, errors.Is(reg.AddRecovery(RecoveryRule{Element: e}), decomp.ErrConfig))

	other := NewRegistry()
	foreign, _ := other.Register(NodeKind, "strainSPR", 6)
	assert.True(t, errors.Is(reg.AddRecovery(RecoveryRule{Element: e, Node: foreign}), decomp.ErrConfig))

	require.NoError(t, reg.AddNodal(one, true))
	assert.True(t, errors.Is(reg.AddNodal(e, false), decomp.ErrConfig))
	assert.Len(t, reg.Recoveries(), 1)
	assert.Equal(t, []NodalRule{{Field: one, NonNegative: true}}, reg.Nodals())
	assert.Equal(t, []*Field{n, one}, reg.nodeFields())
}

func TestPresets(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterPresets(reg, "core", "plastic", "temperature"))
	// stressSPR, strainSPR, densitySPR, materialSPR, velocity, plStrainSPR, temperature
	assert.Equal(t, 6+6+1+1+3+1+1, reg.NodeStride())
	assert.Equal(t, (6+6+1+1+1)*element.TetrahedraCount, reg.ElementStride())
	assert.Len(t, reg.Recoveries(), 5)
	assert.Len(t, reg.Nodals(), 2)

	rules := reg.Recoveries()
	assert.True(t, rules[0].SecondPatch)
	assert.False(t, rules[4].SecondPatch)
	assert.True(t, rules[4].NonNegative)

	// plastic and viscoplastic are alternatives
	err := RegisterPresets(reg, "viscoplastic")
	assert.True(t, errors.Is(err, decomp.ErrConfig))

	err = RegisterPresets(NewRegistry(), "elastic")
	assert.True(t, errors.Is(err, decomp.ErrConfig))

	for _, name := range PresetNames() {
		assert.NoError(t, RegisterPresets(NewRegistry(), name), name)
	}
}

func TestMaterialCodec(t *testing.T) {
	assert.Equal(t, 1.0, encodeMaterial(0))
	assert.Equal(t, 10.0, encodeMaterial(1))
	assert.Equal(t, 0.0, decodeMaterial(encodeMaterial(0)))
	assert.Equal(t, 1.0, decodeMaterial(encodeMaterial(1)))
	// An even mix leans to the stronger material
	assert.Equal(t, 1.0, decodeMaterial((1+10)/2.0))
	assert.Equal(t, 0.0, decodeMaterial(0))
}
