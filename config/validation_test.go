package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	medragerr "github.com/sweetpotato0/medrag/errors"
)

func TestValidatorRules(t *testing.T) {
	tests := []struct {
		name      string
		check     func(v *Validator)
		wantError bool
	}{
		{"non-empty value", func(v *Validator) { v.RequireNonEmpty("f", "valid") }, false},
		{"blank value", func(v *Validator) { v.RequireNonEmpty("f", "  ") }, true},
		{"positive", func(v *Validator) { v.RequirePositive("f", 1) }, false},
		{"zero", func(v *Validator) { v.RequirePositive("f", 0) }, true},
		{"positive duration", func(v *Validator) { v.RequirePositiveDuration("f", time.Second) }, false},
		{"zero duration", func(v *Validator) { v.RequirePositiveDuration("f", 0) }, true},
		{"in range", func(v *Validator) { v.ValidateRange("f", 5, 1, 10) }, false},
		{"below range", func(v *Validator) { v.ValidateRange("f", 0, 1, 10) }, true},
		{"float upper bound", func(v *Validator) { v.ValidateFloatRange("f", 2, 0, 2) }, false},
		{"float above", func(v *Validator) { v.ValidateFloatRange("f", 2.1, 0, 2) }, true},
		{"redis db", func(v *Validator) { v.ValidateDBNumber("f", 15) }, false},
		{"redis db too high", func(v *Validator) { v.ValidateDBNumber("f", 16) }, true},
		{"one of", func(v *Validator) { v.ValidateOneOf("f", "redis", "memory", "redis") }, false},
		{"not one of", func(v *Validator) { v.ValidateOneOf("f", "etcd", "memory", "redis") }, true},
		{"url", func(v *Validator) { v.RequireURL("f", "http://records:8001") }, false},
		{"url without scheme", func(v *Validator) { v.RequireURL("f", "records:8001") }, true},
		{"empty required url", func(v *Validator) { v.RequireURL("f", "") }, true},
		{"empty optional url", func(v *Validator) { v.OptionalURL("f", "") }, false},
		{"ftp url", func(v *Validator) { v.OptionalURL("f", "ftp://host/x") }, true},
		{"listen any host", func(v *Validator) { v.RequireListenAddr("f", ":8080") }, false},
		{"listen host", func(v *Validator) { v.RequireListenAddr("f", "127.0.0.1:9000") }, false},
		{"listen missing port", func(v *Validator) { v.RequireListenAddr("f", "localhost") }, true},
		{"listen bad port", func(v *Validator) { v.RequireListenAddr("f", ":99999") }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator()
			tt.check(v)
			assert.Equal(t, tt.wantError, v.HasErrors())
		})
	}
}

func TestValidatorMultipleErrors(t *testing.T) {
	v := NewValidator()
	v.RequireNonEmpty("a", "").
		RequirePositive("b", -1).
		ValidateOneOf("c", "x", "y")

	require.Len(t, v.Errors(), 3)
	assert.Equal(t, "a", v.Errors()[0].Field)

	err := v.Error()
	require.Error(t, err)
	assert.True(t, medragerr.HasCode(err, medragerr.CodeConfigValidateInvalidValue))
	assert.True(t, medragerr.IsInvalidInput(err))
	assert.Contains(t, err.Error(), "b: value must be positive, got -1")
}

func TestValidatorNoErrors(t *testing.T) {
	v := NewValidator().RequireNonEmpty("a", "x")
	assert.NoError(t, v.Error())
}
