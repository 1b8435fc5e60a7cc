package arbiter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arbiterfabric/cogrt/infrastructure/errors"
)

func ptr(f float64) *float64 { return &f }

func TestSchema_ValidateOK(t *testing.T) {
	s := Schema{
		{Name: "name", Required: true, Type: TypeString},
		{Name: "maxClones", Type: TypeInt, Min: ptr(0), Max: ptr(10)},
	}
	err := s.Validate(map[string]interface{}{"name": "planner-1", "maxClones": 3})
	require.Nil(t, err)
}

func TestSchema_MissingRequiredField(t *testing.T) {
	s := Schema{{Name: "name", Required: true, Type: TypeString}}
	err := s.Validate(map[string]interface{}{})
	require.NotNil(t, err)
	require.Equal(t, errors.CodeConfigValidation, err.Code)
	require.Contains(t, err.Details["offenses"], "name: required")
}

func TestSchema_WrongType(t *testing.T) {
	s := Schema{{Name: "maxClones", Type: TypeInt}}
	err := s.Validate(map[string]interface{}{"maxClones": "nope"})
	require.NotNil(t, err)
	require.Contains(t, err.Details["offenses"], "maxClones: expected type int")
}

func TestSchema_EnumViolation(t *testing.T) {
	s := Schema{{Name: "role", Type: TypeString, Enum: []string{"planner", "indexer"}}}
	err := s.Validate(map[string]interface{}{"role": "rogue"})
	require.NotNil(t, err)
}

func TestSchema_RangeViolation(t *testing.T) {
	s := Schema{{Name: "rate", Type: TypeFloat, Min: ptr(0), Max: ptr(1)}}
	err := s.Validate(map[string]interface{}{"rate": 1.5})
	require.NotNil(t, err)
	require.Contains(t, err.Details["offenses"], "rate: must be <= 1")
}

func TestSchema_CustomPredicate(t *testing.T) {
	s := Schema{{Name: "maxClones", Type: TypeInt, Validate: "v % 2 === 0"}}

	err := s.Validate(map[string]interface{}{"maxClones": 4})
	require.Nil(t, err)

	err = s.Validate(map[string]interface{}{"maxClones": 3})
	require.NotNil(t, err)
	require.Contains(t, err.Details["offenses"], "maxClones: failed custom predicate")
}

func TestSchema_CollectsAllOffenses(t *testing.T) {
	s := Schema{
		{Name: "name", Required: true, Type: TypeString},
		{Name: "role", Required: true, Type: TypeString, Enum: []string{"planner"}},
	}
	err := s.Validate(map[string]interface{}{"role": "rogue"})
	require.NotNil(t, err)
	offenses, ok := err.Details["offenses"].([]string)
	require.True(t, ok)
	require.Len(t, offenses, 2)
}
