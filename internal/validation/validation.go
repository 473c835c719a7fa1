// Package validation checks the names and addresses that flow from the
// configuration into row payloads, SQL statements and controller requests.
package validation

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// =============================================================================
// Name Validation
// =============================================================================

// NameRules defines the validation rules for names.
type NameRules struct {
	MinLength    int
	MaxLength    int
	AllowDots    bool
	AllowHyphens bool
	AllowUnders  bool

	// ASCIIOnly rejects letters and digits outside ASCII.
	ASCIIOnly bool

	// NoLeadingDigit rejects names starting with a digit.
	NoLeadingDigit bool
}

// TagNameRules returns the rules for tag names. Tag names become JSON keys
// and SQL values, so dots (Line1.Speed) are allowed.
func TagNameRules() NameRules {
	return NameRules{
		MinLength:    1,
		MaxLength:    255,
		AllowDots:    true,
		AllowHyphens: true,
		AllowUnders:  true,
	}
}

// IdentifierRules returns the rules for SQL identifiers, which are
// interpolated into statements unquoted.
func IdentifierRules() NameRules {
	return NameRules{
		MinLength:      1,
		MaxLength:      63,
		AllowUnders:    true,
		ASCIIOnly:      true,
		NoLeadingDigit: true,
	}
}

// ValidateName validates a name according to the given rules.
func ValidateName(name string, rules NameRules) error {
	if len(name) < rules.MinLength {
		return fmt.Errorf("name too short: minimum %d characters required", rules.MinLength)
	}
	if len(name) > rules.MaxLength {
		return fmt.Errorf("name too long: maximum %d characters allowed", rules.MaxLength)
	}

	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return fmt.Errorf("name cannot start or end with '.'")
	}
	if rules.NoLeadingDigit && name[0] >= '0' && name[0] <= '9' {
		return fmt.Errorf("name cannot start with a digit")
	}

	for i, r := range name {
		if r < 32 || r == 127 {
			return fmt.Errorf("name cannot contain control characters at position %d", i)
		}
		if !isAllowedNameChar(r, rules) {
			return fmt.Errorf("invalid character '%c' at position %d", r, i)
		}
	}

	return nil
}

func isAllowedNameChar(r rune, rules NameRules) bool {
	if rules.ASCIIOnly && r > unicode.MaxASCII {
		return false
	}
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '.':
		return rules.AllowDots
	case '-':
		return rules.AllowHyphens
	case '_':
		return rules.AllowUnders
	}
	return false
}

// ValidateTagName validates a tag name.
func ValidateTagName(name string) error {
	return ValidateName(name, TagNameRules())
}

// ValidateIdentifier validates an SQL table or column name.
func ValidateIdentifier(name string) error {
	return ValidateName(name, IdentifierRules())
}

// =============================================================================
// OID Validation
// =============================================================================

// ValidateOID validates a numeric SNMP object identifier. A leading dot is
// optional; at least two arcs are required.
func ValidateOID(oid string) error {
	s := strings.TrimPrefix(oid, ".")
	if s == "" {
		return fmt.Errorf("empty oid")
	}

	arcs := strings.Split(s, ".")
	if len(arcs) < 2 {
		return fmt.Errorf("oid %q needs at least two arcs", oid)
	}
	for i, arc := range arcs {
		if arc == "" {
			return fmt.Errorf("oid %q has an empty arc at position %d", oid, i)
		}
		if _, err := strconv.ParseUint(arc, 10, 32); err != nil {
			return fmt.Errorf("oid %q: invalid arc %q", oid, arc)
		}
	}

	first, _ := strconv.Atoi(arcs[0])
	if first > 2 {
		return fmt.Errorf("oid %q: first arc must be 0, 1 or 2", oid)
	}
	return nil
}

// =============================================================================
// Node ID Validation
// =============================================================================

// ValidateNodeID validates an OPC-UA node id in its string form: an optional
// ns=<index>; or nsu=<uri>; prefix followed by i=, s=, g= or b=.
func ValidateNodeID(id string) error {
	s := id
	switch {
	case strings.HasPrefix(s, "ns="):
		ns, rest, ok := strings.Cut(s[len("ns="):], ";")
		if !ok {
			return fmt.Errorf("node id %q: namespace must end with ';'", id)
		}
		if _, err := strconv.ParseUint(ns, 10, 16); err != nil {
			return fmt.Errorf("node id %q: invalid namespace index %q", id, ns)
		}
		s = rest
	case strings.HasPrefix(s, "nsu="):
		uri, rest, ok := strings.Cut(s[len("nsu="):], ";")
		if !ok || uri == "" {
			return fmt.Errorf("node id %q: invalid namespace uri", id)
		}
		s = rest
	}

	kind, ident, ok := strings.Cut(s, "=")
	if !ok || ident == "" {
		return fmt.Errorf("node id %q: expected i=, s=, g= or b= identifier", id)
	}
	switch kind {
	case "i":
		if _, err := strconv.ParseUint(ident, 10, 32); err != nil {
			return fmt.Errorf("node id %q: invalid numeric identifier %q", id, ident)
		}
	case "g":
		if len(ident) != 36 || strings.Count(ident, "-") != 4 {
			return fmt.Errorf("node id %q: invalid guid %q", id, ident)
		}
	case "s", "b":
	default:
		return fmt.Errorf("node id %q: unknown identifier type %q", id, kind)
	}
	return nil
}
