package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Condition grades the quality of a traded-in item.
type Condition uint8

const (
	conditionUnset Condition = iota
	LikeNew
	VeryGood
	WellUsed
)

var conditionNames = map[Condition]string{
	LikeNew:  "LIKE_NEW",
	VeryGood: "VERY_GOOD",
	WellUsed: "WELL_USED",
}

var multipliers = map[Condition]decimal.Decimal{
	LikeNew:  decimal.RequireFromString("1.00"),
	VeryGood: decimal.RequireFromString("0.75"),
	WellUsed: decimal.RequireFromString("0.45"),
}

// Conditions returns every grade from best to worst.
func Conditions() []Condition {
	return []Condition{LikeNew, VeryGood, WellUsed}
}

// ParseCondition converts a wire name such as "VERY_GOOD" into a Condition.
// Matching ignores case and accepts dashes or spaces in place of underscores.
func ParseCondition(value string) (Condition, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)
	for c, name := range conditionNames {
		if name == normalized {
			return c, nil
		}
	}
	return conditionUnset, fmt.Errorf("condition %q: %w", value, ErrInvalidItemState)
}

// Valid reports whether c is one of the defined grades.
func (c Condition) Valid() bool {
	_, ok := conditionNames[c]
	return ok
}

func (c Condition) String() string {
	if name, ok := conditionNames[c]; ok {
		return name
	}
	return "UNKNOWN"
}

// MarshalText implements encoding.TextMarshaler.
func (c Condition) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("condition %d: %w", c, ErrInvalidItemState)
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Condition) UnmarshalText(text []byte) error {
	parsed, err := ParseCondition(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// MultiplierFor returns the share of the base price paid for the grade.
// Grades outside the enumeration yield zero; Validate rejects them first.
func MultiplierFor(c Condition) decimal.Decimal {
	if m, ok := multipliers[c]; ok {
		return m
	}
	return decimal.Zero
}
