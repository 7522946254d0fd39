// Package config defines the engine's configuration surface, validated
// with github.com/go-playground/validator/v10 struct tags.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/driftline/formulacore/internal/apperr"
)

// DateSystem selects the workbook date epoch, including the 1900
// leap-year quirk.
type DateSystem string

const (
	DateSystem1900 DateSystem = "1900"
	DateSystem1904 DateSystem = "1904"
)

// WhitespacePolicy controls how the content parser treats leading/trailing
// whitespace in a raw cell string before classification.
type WhitespacePolicy string

const (
	WhitespaceTrim WhitespacePolicy = "trim"
	WhitespaceKeep WhitespacePolicy = "keep"
)

// EngineConfig is the engine's recognized-options bundle. Fields the
// evaluation core does not consult (date/currency formatting, locale,
// accent sensitivity, array-arithmetic toggle) are still carried so
// formatter layers built on top have somewhere to read them from.
type EngineConfig struct {
	AllowCircularReferences bool `validate:"-"`

	MaxRows    uint32 `validate:"required,min=1"`
	MaxColumns uint32 `validate:"required,min=1"`

	UseStats bool `validate:"-"`

	// UseColumnIndex switches lookup functions (MATCH, VLOOKUP) from a
	// linear column scan to the binary search index; see internal/colsearch.
	UseColumnIndex bool `validate:"-"`

	DateSystem          DateSystem       `validate:"omitempty,oneof=1900 1904"`
	CurrencySymbol      string           `validate:"omitempty"`
	Locale              string           `validate:"omitempty"`
	AccentSensitive     bool             `validate:"-"`
	ArrayArithmeticMode bool             `validate:"-"`
	WhitespacePolicy    WhitespacePolicy `validate:"omitempty,oneof=trim keep"`
	NullToZero          bool             `validate:"-"`
	NullDate            string           `validate:"omitempty"`

	// InitialComputedValues seeds tolerant-mode cycles, keyed by sheet
	// name. Values are plain float64/string/bool for config-author
	// ergonomics; the evaluator converts them to cellval.CellValue lazily.
	InitialComputedValues map[string][][]any `validate:"-"`
}

// Default returns the engine's baseline configuration: strict-mode cycles,
// a generous but bounded sheet size, stats on.
func Default() EngineConfig {
	return EngineConfig{
		AllowCircularReferences: false,
		MaxRows:                 1_048_576,
		MaxColumns:              16_384,
		UseStats:                true,
		DateSystem:              DateSystem1900,
		WhitespacePolicy:        WhitespaceTrim,
	}
}

var validate = validator.New()

// Validate runs struct-tag validation and translates the first failure into
// a typed *apperr.Error with Kind apperr.ConfigType.
func (c EngineConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return apperr.New(apperr.InvalidArgument, apperr.ConfigType,
				fmt.Sprintf("config field %s failed validation %q", fe.Field(), fe.Tag()))
		}
		return apperr.New(apperr.InvalidArgument, apperr.ConfigType, err.Error())
	}
	return nil
}

// Merge overlays non-zero numeric, string and map fields of patch onto c,
// returning the result. Bool fields are always taken from patch, so a false
// in patch turns the option off.
// Rebuilding with a partial config change goes through here.
func (c EngineConfig) Merge(patch EngineConfig) EngineConfig {
	result := c
	if patch.MaxRows != 0 {
		result.MaxRows = patch.MaxRows
	}
	if patch.MaxColumns != 0 {
		result.MaxColumns = patch.MaxColumns
	}
	if patch.DateSystem != "" {
		result.DateSystem = patch.DateSystem
	}
	if patch.WhitespacePolicy != "" {
		result.WhitespacePolicy = patch.WhitespacePolicy
	}
	if patch.CurrencySymbol != "" {
		result.CurrencySymbol = patch.CurrencySymbol
	}
	if patch.Locale != "" {
		result.Locale = patch.Locale
	}
	if patch.InitialComputedValues != nil {
		result.InitialComputedValues = patch.InitialComputedValues
	}
	result.AllowCircularReferences = patch.AllowCircularReferences
	result.UseStats = patch.UseStats
	result.UseColumnIndex = patch.UseColumnIndex
	result.AccentSensitive = patch.AccentSensitive
	result.ArrayArithmeticMode = patch.ArrayArithmeticMode
	result.NullToZero = patch.NullToZero
	if patch.NullDate != "" {
		result.NullDate = patch.NullDate
	}
	return result
}
