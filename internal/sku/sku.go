// Package sku models garment specifications and the rules for matching a
// requested target SKU against stock or production SKUs.
package sku

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/buildtall-systems/denimtrack/internal/apperr"
)

// Wash is a wash code. Concrete washes are customer facing; universal washes
// are the undyed production form of a wash group.
type Wash string

const (
	WashStardust Wash = "STA"
	WashIndigo   Wash = "IND"
	WashOnyx     Wash = "ONX"
	WashJagger   Wash = "JAG"

	WashRaw   Wash = "RAW"
	WashBrown Wash = "BRW"
)

// UniversalLength is the production length of every universal SKU.
const UniversalLength = 36

var washGroups = map[Wash]Wash{
	WashStardust: WashRaw,
	WashIndigo:   WashRaw,
	WashOnyx:     WashBrown,
	WashJagger:   WashBrown,
}

// ConcreteWashes lists the customer facing washes in a stable order.
var ConcreteWashes = []Wash{WashIndigo, WashStardust, WashOnyx, WashJagger}

// ParseWash converts s to a known wash code.
func ParseWash(s string) (Wash, error) {
	w := Wash(strings.ToUpper(strings.TrimSpace(s)))
	if w.IsConcrete() || w.IsUniversal() {
		return w, nil
	}
	return "", apperr.New(apperr.InvalidWashCode, "unknown wash code %q", s)
}

// IsConcrete reports whether w belongs to a wash group.
func (w Wash) IsConcrete() bool {
	_, ok := washGroups[w]
	return ok
}

// IsUniversal reports whether w is a group's universal code.
func (w Wash) IsUniversal() bool {
	return w == WashRaw || w == WashBrown
}

// UniversalWashOf returns the universal code of w's wash group.
func UniversalWashOf(w Wash) (Wash, error) {
	u, ok := washGroups[w]
	if !ok {
		return "", apperr.New(apperr.InvalidWashCode, "wash %q is not in a wash group", string(w))
	}
	return u, nil
}

// SKU is a garment specification.
type SKU struct {
	Style  string `json:"style"`
	Waist  int    `json:"waist"`
	Shape  string `json:"shape"`
	Length int    `json:"length"`
	Wash   Wash   `json:"wash"`
}

// String returns the canonical STYLE-WAIST-SHAPE-LENGTH-WASH form.
func (s SKU) String() string {
	return fmt.Sprintf("%s-%d-%s-%d-%s", s.Style, s.Waist, s.Shape, s.Length, s.Wash)
}

// Key identifies the style, waist and shape family of s together with its
// universal wash. Orders with equal keys share a universal SKU.
func (s SKU) Key() string {
	u, err := UniversalWashOf(s.Wash)
	if err != nil {
		u = s.Wash
	}
	return fmt.Sprintf("%s-%d-%s-%s", s.Style, s.Waist, s.Shape, u)
}

// Parse reads the canonical form produced by String.
func Parse(text string) (SKU, error) {
	parts := strings.Split(strings.TrimSpace(text), "-")
	if len(parts) != 5 {
		return SKU{}, apperr.New(apperr.InvalidInput, "sku %q must have five dash separated fields", text)
	}
	waist, err := strconv.Atoi(parts[1])
	if err != nil {
		return SKU{}, apperr.New(apperr.InvalidInput, "sku %q has non-numeric waist", text)
	}
	length, err := strconv.Atoi(parts[3])
	if err != nil {
		return SKU{}, apperr.New(apperr.InvalidInput, "sku %q has non-numeric length", text)
	}
	wash, err := ParseWash(parts[4])
	if err != nil {
		return SKU{}, err
	}
	s := SKU{
		Style:  strings.ToUpper(parts[0]),
		Waist:  waist,
		Shape:  strings.ToUpper(parts[2]),
		Length: length,
		Wash:   wash,
	}
	if err := s.Validate(); err != nil {
		return SKU{}, err
	}
	return s, nil
}

// Validate checks that every field is populated and the wash is known.
func (s SKU) Validate() error {
	if s.Style == "" || s.Shape == "" {
		return apperr.New(apperr.InvalidInput, "sku %s: style and shape are required", s)
	}
	if s.Waist <= 0 {
		return apperr.New(apperr.InvalidInput, "sku %s: waist must be positive", s)
	}
	if s.Length <= 0 || s.Length > UniversalLength {
		return apperr.New(apperr.InvalidInput, "sku %s: length must be between 1 and %d", s, UniversalLength)
	}
	if !s.Wash.IsConcrete() && !s.Wash.IsUniversal() {
		return apperr.New(apperr.InvalidWashCode, "sku %s: unknown wash code %q", s, string(s.Wash))
	}
	return nil
}

// ValidateTarget validates s as a customer target, which never carries a
// universal wash.
func (s SKU) ValidateTarget() error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.Wash.IsUniversal() {
		return apperr.New(apperr.InvalidWashCode, "sku %s: universal wash %s cannot be ordered", s, string(s.Wash))
	}
	return nil
}

// IsExactMatch reports whether all five fields are equal.
func IsExactMatch(target, candidate SKU) bool {
	return target == candidate
}

// IsUniversalMatch reports whether candidate is a universal SKU that can be
// cut and washed down to target.
func IsUniversalMatch(target, candidate SKU) bool {
	u, err := UniversalWashOf(target.Wash)
	if err != nil {
		return false
	}
	return target.Style == candidate.Style &&
		target.Waist == candidate.Waist &&
		target.Shape == candidate.Shape &&
		candidate.Length >= target.Length &&
		candidate.Wash == u
}

// Matches reports an exact or universal match.
func Matches(target, candidate SKU) bool {
	return IsExactMatch(target, candidate) || IsUniversalMatch(target, candidate)
}

// Universalize returns the production SKU for s: universal length and the
// universal wash of its group.
func Universalize(s SKU) (SKU, error) {
	u, err := UniversalWashOf(s.Wash)
	if err != nil {
		return SKU{}, err
	}
	s.Length = UniversalLength
	s.Wash = u
	return s, nil
}
