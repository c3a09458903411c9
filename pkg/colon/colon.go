// Package colon implements C5, the colon-line parser used for keylist and
// trustlist operations' machine-readable stdout (gpg/gpgsm's
// --with-colons format).
//
// Grounded on spec §4.5/§6 for field layout and the trust/validity/capability
// letter tables, and on pkg/linebuf (shared with pkg/status, same growth
// discipline) for line accumulation — the teacher has no colon-format
// parser of its own, so the line-buffering half is adapted straight from
// pkg/status's use of linebuf.Buffer, and the field semantics come from the
// spec itself plus original_source/trunk/gpgme/key-cache.c's field indices.
package colon

import (
	"strconv"
	"strings"

	"github.com/gpgme-go/gogpgme/pkg/linebuf"
)

// RecordType names the first field of a colon record relevant to keylist.
type RecordType string

const (
	RecordPub RecordType = "pub"
	RecordSub RecordType = "sub"
	RecordSec RecordType = "sec"
	RecordSsb RecordType = "ssb"
	RecordCrt RecordType = "crt"
	RecordCrs RecordType = "crs"
	RecordFpr RecordType = "fpr"
	RecordUID RecordType = "uid"
	RecordSig RecordType = "sig"
	RecordRev RecordType = "rev"
)

// Validity is the trust/validity letter found in fields 2 and 9.
type Validity int

const (
	ValidityUnknown Validity = iota
	ValidityNever
	ValidityMarginal
	ValidityFull
	ValidityUltimate
	ValidityUndefined
	ValidityRevoked
	ValidityExpired
	ValidityDisabled
	ValidityInvalid
)

var validityLetters = map[byte]Validity{
	'n': ValidityNever,
	'm': ValidityMarginal,
	'f': ValidityFull,
	'u': ValidityUltimate,
	'q': ValidityUndefined,
	'?': ValidityUnknown,
	'r': ValidityRevoked,
	'e': ValidityExpired,
	'd': ValidityDisabled,
	'i': ValidityInvalid,
}

// ParseValidity maps a single trust/validity letter to its enum value.
func ParseValidity(letter string) Validity {
	if len(letter) != 1 {
		return ValidityUnknown
	}
	if v, ok := validityLetters[letter[0]]; ok {
		return v
	}
	return ValidityUnknown
}

// Capabilities decodes field 12 of a pub/sub record: lowercase letters
// grant the capability at subkey level, uppercase at primary-key level, and
// 'd'/'D' mark the key disabled.
type Capabilities struct {
	Encrypt, Sign, Certify                      bool
	PrimaryEncrypt, PrimarySign, PrimaryCertify bool
	Disabled                                    bool
}

// ParseCapabilities decodes field 12's capability letters.
func ParseCapabilities(field string) Capabilities {
	var c Capabilities
	for _, r := range field {
		switch r {
		case 'e':
			c.Encrypt = true
		case 's':
			c.Sign = true
		case 'c':
			c.Certify = true
		case 'E':
			c.PrimaryEncrypt = true
		case 'S':
			c.PrimarySign = true
		case 'C':
			c.PrimaryCertify = true
		case 'd', 'D':
			c.Disabled = true
		}
	}
	return c
}

// Record is one parsed colon line, fields 1-indexed to match gpg's own
// documentation (Fields[0] is always the record type string).
type Record struct {
	Type   RecordType
	Fields []string
}

// Field returns the 1-indexed field, or "" past the end of the record —
// colon records are variable-length and short records are common (e.g. a
// "fpr" record only populates through field 10).
func (r Record) Field(n int) string {
	if n < 1 || n > len(r.Fields) {
		return ""
	}
	return r.Fields[n-1]
}

// FieldInt parses a numeric field, returning 0 if absent or malformed.
func (r Record) FieldInt(n int) int {
	v, _ := strconv.Atoi(r.Field(n))
	return v
}

// Handler receives each non-empty colon line, plus a single call with a
// zero Record once EOF is observed (spec §4.5: "EOF produces a single
// synthetic null-line call").
type Handler func(Record)

// Parser accumulates bytes from a colon-fd reader and dispatches complete
// lines.
type Parser struct {
	buf     *linebuf.Buffer
	handler Handler
}

// New returns a Parser that calls handler per parsed line.
func New(handler Handler) *Parser {
	return &Parser{buf: linebuf.New(), handler: handler}
}

// Feed appends newly read bytes and dispatches every complete line found.
func (p *Parser) Feed(data []byte) {
	for len(data) > 0 {
		slot := p.buf.WriteSlot()
		n := copy(slot, data)
		p.buf.Commit(n)
		data = data[n:]
	}
	for {
		line, ok := p.buf.Next()
		if !ok {
			return
		}
		if len(line) == 0 {
			continue
		}
		p.handler(parseLine(string(line)))
	}
}

// FeedEOF dispatches the synthetic null-record call.
func (p *Parser) FeedEOF() {
	p.handler(Record{})
}

func parseLine(line string) Record {
	fields := strings.Split(line, ":")
	rec := Record{Fields: fields}
	if len(fields) > 0 {
		rec.Type = RecordType(fields[0])
	}
	return rec
}

// UnescapeUserID reverses the C-style escaping gpg applies to field 10 of a
// uid record: \xNN hex escapes plus the standard \n \r \t \\ \: shorthand.
func UnescapeUserID(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		next := s[i+1]
		switch next {
		case 'n':
			b.WriteByte('\n')
			i++
		case 'r':
			b.WriteByte('\r')
			i++
		case 't':
			b.WriteByte('\t')
			i++
		case '\\':
			b.WriteByte('\\')
			i++
		case ':':
			b.WriteByte(':')
			i++
		case 'x':
			if i+3 < len(s) {
				if v, err := strconv.ParseUint(s[i+2:i+4], 16, 8); err == nil {
					b.WriteByte(byte(v))
					i += 3
					continue
				}
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
