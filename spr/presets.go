package spr

import (
	"errors"
	"fmt"
	"math"

	"github.com/notargets/snacdecomp/decomp"
)

// Material indices are recovered as 10^m so a 0/1 interface stays sharp
// after averaging
func encodeMaterial(m float64) float64 { return math.Pow(10, m) }

func decodeMaterial(v float64) float64 {
	if math.Log10(v) > 0.5 {
		return 1
	}
	return 0
}

type fieldSpec struct {
	name       string
	components int
}

// recovered registers an element field, its node counterpart and the rule
// joining them
func (r *Registry) recovered(elem, node fieldSpec, rule RecoveryRule) error {
	ef, err := r.Register(ElementKind, elem.name, elem.components)
	if err != nil {
		return err
	}
	nf, err := r.Register(NodeKind, node.name, node.components)
	if err != nil {
		return err
	}
	rule.Element, rule.Node = ef, nf
	return r.AddRecovery(rule)
}

// RegisterCore adds the fields every mechanical run carries: stress and
// strain (6 components each), density and material recovered with a
// boundary second patch, and velocity interpolated directly
func RegisterCore(r *Registry) error {
	for _, s := range []struct {
		elem, node fieldSpec
		rule       RecoveryRule
	}{
		{fieldSpec{"stress", 6}, fieldSpec{"stressSPR", 6}, RecoveryRule{SecondPatch: true}},
		{fieldSpec{"strain", 6}, fieldSpec{"strainSPR", 6}, RecoveryRule{SecondPatch: true}},
		{fieldSpec{"density", 1}, fieldSpec{"densitySPR", 1}, RecoveryRule{SecondPatch: true}},
		{fieldSpec{"material", 1}, fieldSpec{"materialSPR", 1}, RecoveryRule{
			SecondPatch: true,
			Encode:      encodeMaterial,
			Decode:      decodeMaterial,
		}},
	} {
		if err := r.recovered(s.elem, s.node, s.rule); err != nil {
			return err
		}
	}
	v, err := r.Register(NodeKind, "velocity", 3)
	if err != nil {
		return err
	}
	return r.AddNodal(v, false)
}

func RegisterPlastic(r *Registry) error {
	return r.recovered(fieldSpec{"plasticStrain", 1}, fieldSpec{"plStrainSPR", 1},
		RecoveryRule{NonNegative: true})
}

// RegisterViscoPlastic is RegisterPlastic with the boundary second patch.
// The two are alternatives and register the same names.
func RegisterViscoPlastic(r *Registry) error {
	return r.recovered(fieldSpec{"plasticStrain", 1}, fieldSpec{"plStrainSPR", 1},
		RecoveryRule{NonNegative: true, SecondPatch: true})
}

func RegisterTemperature(r *Registry) error {
	t, err := r.Register(NodeKind, "temperature", 1)
	if err != nil {
		return err
	}
	return r.AddNodal(t, false)
}

var presets = map[string]func(*Registry) error{
	"core":         RegisterCore,
	"plastic":      RegisterPlastic,
	"viscoplastic": RegisterViscoPlastic,
	"temperature":  RegisterTemperature,
}

// PresetNames lists the names RegisterPresets accepts
func PresetNames() []string {
	return []string{"core", "plastic", "viscoplastic", "temperature"}
}

// RegisterPresets applies the named presets in order
func RegisterPresets(r *Registry, names ...string) error {
	var errs []error
	for _, n := range names {
		fn, ok := presets[n]
		if !ok {
			errs = append(errs, fmt.Errorf("unknown field preset %q: %w", n, decomp.ErrConfig))
			continue
		}
		if err := fn(r); err != nil {
			errs = append(errs, fmt.Errorf("preset %s: %w", n, err))
		}
	}
	return errors.Join(errs...)
}
