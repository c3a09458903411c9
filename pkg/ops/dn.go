package ops

import (
	"strings"
)

// Attribute is one key=value pair of a parsed Distinguished Name.
type Attribute struct {
	Name  string
	Value string
}

// oidMap translates a handful of numeric OIDs gpgsm returns into the short
// names qgpgme's DN class prefers, grounded on dn.cpp's oidmap table.
var oidMap = map[string]string{
	"ST":                   "SP", // Sphinx-required SP for StateOrProvince
	"0.2.262.1.10.7.20":    "NameDistinguisher",
	"1.2.840.113549.1.9.1": "EMAIL",
	"2.5.4.4":              "SN",
	"2.5.4.5":              "SerialNumber",
	"2.5.4.12":             "T",
	"2.5.4.13":             "D",
	"2.5.4.15":             "BC",
	"2.5.4.16":             "ADDR",
	"2.5.4.17":             "PC",
	"2.5.4.42":             "GN",
	"2.5.4.65":             "Pseudo",
}

// DefaultDNOrder is the attribute display order dn.cpp's Private constructor
// hard-codes; "_X_" is the marker position where every attribute not named
// elsewhere in the list is inserted, in its original order.
var DefaultDNOrder = []string{"CN", "L", "_X_", "OU", "O", "C"}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F') || (c >= 'a' && c <= 'f')
}

func xtoi1(c byte) byte {
	switch {
	case c <= '9':
		return c - '0'
	case c <= 'F':
		return c - 'A' + 10
	default:
		return c - 'a' + 10
	}
}

func xtoi2(s string) byte {
	return xtoi1(s[0])*16 + xtoi1(s[1])
}

// ParseDN parses an RFC 2253-ish DN string of the kind gpgsm emits, per
// dn.cpp's parse_dn/parse_dn_part: a non-validating parser that does not
// accept the old-style syntax, since gpgme only ever returns RFC 2253
// strings.
func ParseDN(dn string) []Attribute {
	var result []Attribute
	s := dn
	for {
		for len(s) > 0 && s[0] == ' ' {
			s = s[1:]
		}
		if len(s) == 0 {
			break
		}

		eq := strings.IndexByte(s, '=')
		if eq < 0 {
			return nil
		}
		key := strings.TrimRight(s[:eq], " ")
		if key == "" {
			return nil
		}
		if mapped, ok := oidMap[strings.ToUpper(key)]; ok {
			key = mapped
		}
		s = s[eq+1:]

		var value, rest string
		if len(s) > 0 && s[0] == '#' {
			value, rest = parseHexValue(s[1:])
		} else {
			value, rest = parseQuotedValue(s)
		}
		if rest == failureMarker {
			return nil
		}
		s = rest

		result = append(result, Attribute{Name: key, Value: value})

		for len(s) > 0 && s[0] == ' ' {
			s = s[1:]
		}
		if len(s) > 0 && s[0] != ',' && s[0] != ';' && s[0] != '+' {
			return nil
		}
		if len(s) > 0 {
			s = s[1:]
		}
	}
	return result
}

const failureMarker = "\x00invalid\x00"

func parseHexValue(s string) (value, rest string) {
	n := 0
	for n < len(s) && isHexDigit(s[n]) {
		n++
	}
	if n == 0 || n%2 != 0 {
		return "", failureMarker
	}
	var b strings.Builder
	for i := 0; i < n; i += 2 {
		b.WriteByte(xtoi2(s[i : i+2]))
	}
	return b.String(), s[n:]
}

func parseQuotedValue(s string) (value, rest string) {
	var b strings.Builder
	i := 0
	for i < len(s) {
		c := s[i]
		if c == '\\' {
			i++
			if i >= len(s) {
				return "", failureMarker
			}
			switch s[i] {
			case ',', '=', '+', '<', '>', '#', ';', '\\', '"', ' ':
				b.WriteByte(s[i])
				i++
			default:
				if i+1 < len(s) && isHexDigit(s[i]) && isHexDigit(s[i+1]) {
					b.WriteByte(xtoi2(s[i : i+2]))
					i += 2
				} else {
					return "", failureMarker
				}
			}
			continue
		}
		if c == '"' {
			return "", failureMarker
		}
		if c == ',' || c == '=' || c == '+' || c == '<' || c == '>' || c == '#' || c == ';' {
			break
		}
		b.WriteByte(c)
		i++
	}
	return b.String(), s[i:]
}

// EscapeDNValue escapes the characters dn.cpp's dn_escape considers special
// when serializing a DN attribute value back out.
func EscapeDNValue(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ',', '+', '"', '\\', '<', '>', ';':
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// SerializeDN joins attrs back into a single string using sep, skipping any
// attribute with an empty name or value, per dn.cpp's serialise().
func SerializeDN(attrs []Attribute, sep string) string {
	var parts []string
	for _, a := range attrs {
		name := strings.TrimSpace(a.Name)
		value := strings.TrimSpace(a.Value)
		if name == "" || value == "" {
			continue
		}
		parts = append(parts, name+"="+EscapeDNValue(value))
	}
	return strings.Join(parts, sep)
}

// ReorderDN rearranges attrs into the order named order describes; the
// sentinel name "_X_" marks where every attribute whose name isn't
// otherwise listed gets inserted, in its original relative order. Grounded
// on dn.cpp's reorder_dn, used by DN.prettyDN().
func ReorderDN(attrs []Attribute, order []string) []Attribute {
	named := make(map[string]bool, len(order))
	for _, name := range order {
		named[name] = true
	}

	var unknown []Attribute
	for _, a := range attrs {
		if !named[a.Name] {
			unknown = append(unknown, a)
		}
	}

	var result []Attribute
	for _, name := range order {
		if name == "_X_" {
			result = append(result, unknown...)
			unknown = nil
			continue
		}
		for _, a := range attrs {
			if a.Name == name {
				result = append(result, a)
			}
		}
	}
	return result
}

// PrettyDN parses dn with DefaultDNOrder applied and re-serializes it with
// ","-separated attributes, matching DN::prettyDN()'s default behavior.
func PrettyDN(dn string) string {
	return SerializeDN(ReorderDN(ParseDN(dn), DefaultDNOrder), ",")
}
