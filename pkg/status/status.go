// Package status implements C4, the status-line parser: it turns the bytes
// arriving on an engine's status-fd into typed, dispatched events.
//
// Grounded on original_source/trunk/gpgme/rungpg.c's read_status(): prefix
// check against "[GNUPG:] ", a single split on the first space to separate
// keyword from argument text, and a sorted table lookup (there, bsearch
// over a static array; here, sort.Search over the same idea) rather than a
// map, since the keyword set is fixed at compile time and a table lookup is
// what the original does.
package status

import (
	"sort"
	"strings"

	"github.com/gpgme-go/gogpgme/pkg/linebuf"
)

// Keyword is a typed status-line keyword, the Go analogue of GPGME_STATUS_*.
type Keyword int

const (
	KeywordUnknown Keyword = iota
	KeywordGoodsig
	KeywordBadsig
	KeywordExpsig
	KeywordExpkeysig
	KeywordErrsig
	KeywordValidsig
	KeywordNodata
	KeywordUnexpected
	KeywordTrustUndefined
	KeywordTrustNever
	KeywordTrustMarginal
	KeywordTrustFully
	KeywordTrustUltimate
	KeywordNotationName
	KeywordNotationData
	KeywordPolicyURL
	KeywordEncTo
	KeywordNoSeckey
	KeywordDecryptionInfo
	KeywordDecryptionOkay
	KeywordDecryptionFailed
	KeywordDecryptionComplianceMode
	KeywordSessionKey
	KeywordPlaintext
	KeywordInquireMaxlen
	KeywordGetBool
	KeywordGetLine
	KeywordGetHidden
	KeywordEndStream
	KeywordNeedPassphrase
	KeywordNeedPassphraseSym
	KeywordMissingPassphrase
	KeywordBadPassphrase
	KeywordGoodPassphrase
	KeywordUserIDHint
	KeywordSigCreated
	KeywordImportOk
	KeywordImportProblem
	KeywordImportRes
	KeywordKeyCreated
	KeywordTruncated
	KeywordProgress
	KeywordFailure
	KeywordError
	KeywordEOF // synthetic: generated on status-fd EOF, not a real status line
)

type tableEntry struct {
	name string
	kw   Keyword
}

// keywordTable is kept sorted by name so dispatch can binary-search it, the
// same structure original_source's status_table[] used with bsearch.
var keywordTable = []tableEntry{
	{"BADSIG", KeywordBadsig},
	{"BAD_PASSPHRASE", KeywordBadPassphrase},
	{"DECRYPTION_COMPLIANCE_MODE", KeywordDecryptionComplianceMode},
	{"DECRYPTION_FAILED", KeywordDecryptionFailed},
	{"DECRYPTION_INFO", KeywordDecryptionInfo},
	{"DECRYPTION_OKAY", KeywordDecryptionOkay},
	{"ENC_TO", KeywordEncTo},
	{"END_STREAM", KeywordEndStream},
	{"ERROR", KeywordError},
	{"ERRSIG", KeywordErrsig},
	{"EXPKEYSIG", KeywordExpkeysig},
	{"EXPSIG", KeywordExpsig},
	{"FAILURE", KeywordFailure},
	{"GET_BOOL", KeywordGetBool},
	{"GET_HIDDEN", KeywordGetHidden},
	{"GET_LINE", KeywordGetLine},
	{"GOODSIG", KeywordGoodsig},
	{"GOOD_PASSPHRASE", KeywordGoodPassphrase},
	{"IMPORT_OK", KeywordImportOk},
	{"IMPORT_PROBLEM", KeywordImportProblem},
	{"IMPORT_RES", KeywordImportRes},
	{"INQUIRE_MAXLEN", KeywordInquireMaxlen},
	{"KEY_CREATED", KeywordKeyCreated},
	{"MISSING_PASSPHRASE", KeywordMissingPassphrase},
	{"NEED_PASSPHRASE", KeywordNeedPassphrase},
	{"NEED_PASSPHRASE_SYM", KeywordNeedPassphraseSym},
	{"NODATA", KeywordNodata},
	{"NOTATION_DATA", KeywordNotationData},
	{"NOTATION_NAME", KeywordNotationName},
	{"NO_SECKEY", KeywordNoSeckey},
	{"PLAINTEXT", KeywordPlaintext},
	{"POLICY_URL", KeywordPolicyURL},
	{"PROGRESS", KeywordProgress},
	{"SESSION_KEY", KeywordSessionKey},
	{"SIG_CREATED", KeywordSigCreated},
	{"TRUNCATED", KeywordTruncated},
	{"TRUST_FULLY", KeywordTrustFully},
	{"TRUST_MARGINAL", KeywordTrustMarginal},
	{"TRUST_NEVER", KeywordTrustNever},
	{"TRUST_ULTIMATE", KeywordTrustUltimate},
	{"TRUST_UNDEFINED", KeywordTrustUndefined},
	{"UNEXPECTED", KeywordUnexpected},
	{"USERID_HINT", KeywordUserIDHint},
}

func lookup(name string) Keyword {
	i := sort.Search(len(keywordTable), func(i int) bool {
		return keywordTable[i].name >= name
	})
	if i < len(keywordTable) && keywordTable[i].name == name {
		return keywordTable[i].kw
	}
	return KeywordUnknown
}

// Event is one dispatched status line.
type Event struct {
	Keyword Keyword
	Raw     string // the keyword text as it appeared on the line
	Args    string
}

// Handler receives status events in the order they were parsed.
type Handler func(Event)

const prefix = "[GNUPG:] "

// Parser accumulates bytes from a status-fd reader and dispatches complete
// lines to a Handler, via a linebuf.Buffer for partial-line accumulation.
type Parser struct {
	buf     *linebuf.Buffer
	handler Handler
}

// New returns a Parser that calls handler for each recognized status line,
// plus a single synthetic KeywordEOF event when FeedEOF is called.
func New(handler Handler) *Parser {
	return &Parser{buf: linebuf.New(), handler: handler}
}

// Feed appends newly read bytes and dispatches every complete line found.
func (p *Parser) Feed(data []byte) {
	slot := p.buf.WriteSlot()
	n := copy(slot, data)
	p.buf.Commit(n)
	if n < len(data) {
		// WriteSlot's capacity is bounded by the buffer's current room;
		// grow and retry for any remainder. linebuf.Buffer's growth happens
		// automatically on the next WriteSlot call once room is short,
		// so recurse rather than duplicate that logic here.
		p.Feed(data[n:])
		return
	}
	p.drain()
}

func (p *Parser) drain() {
	for {
		line, ok := p.buf.Next()
		if !ok {
			return
		}
		p.dispatchLine(string(line))
	}
}

func (p *Parser) dispatchLine(line string) {
	if !strings.HasPrefix(line, prefix) {
		return
	}
	rest := line[len(prefix):]
	if rest == "" || rest[0] < 'A' || rest[0] > 'Z' {
		return
	}
	keyword, args, _ := strings.Cut(rest, " ")
	kw := lookup(keyword)
	if kw == KeywordUnknown {
		// Per spec: unrecognized keywords are dropped silently, not
		// surfaced as an "unknown" event.
		return
	}
	p.handler(Event{Keyword: kw, Raw: keyword, Args: args})
}

// FeedEOF dispatches the synthetic EOF event, once the status-fd pump
// reports no more data, per spec §4.4.
func (p *Parser) FeedEOF() {
	p.handler(Event{Keyword: KeywordEOF})
}

// String names a Keyword for logging.
func (k Keyword) String() string {
	for _, e := range keywordTable {
		if e.kw == k {
			return e.name
		}
	}
	if k == KeywordEOF {
		return "EOF"
	}
	return "UNKNOWN"
}
