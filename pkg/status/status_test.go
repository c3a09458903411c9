package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchesKnownKeywordWithArgs(t *testing.T) {
	var got []Event
	p := New(func(e Event) { got = append(got, e) })

	p.Feed([]byte("[GNUPG:] GOODSIG 0123456789ABCDEF Alice <alice@example.com>\n"))

	require.Len(t, got, 1)
	assert.Equal(t, KeywordGoodsig, got[0].Keyword)
	assert.Equal(t, "0123456789ABCDEF Alice <alice@example.com>", got[0].Args)
}

func TestKeywordWithoutArgs(t *testing.T) {
	var got []Event
	p := New(func(e Event) { got = append(got, e) })

	p.Feed([]byte("[GNUPG:] TRUNCATED\n"))

	require.Len(t, got, 1)
	assert.Equal(t, KeywordTruncated, got[0].Keyword)
	assert.Equal(t, "", got[0].Args)
}

func TestUnknownKeywordIsIgnoredNotErrored(t *testing.T) {
	var got []Event
	p := New(func(e Event) { got = append(got, e) })

	p.Feed([]byte("[GNUPG:] SOME_FUTURE_KEYWORD blah\n"))

	assert.Empty(t, got)
}

func TestNonStatusLineIsIgnored(t *testing.T) {
	var got []Event
	p := New(func(e Event) { got = append(got, e) })

	p.Feed([]byte("this is not a status line\n"))

	assert.Empty(t, got)
}

func TestLowercaseAfterPrefixIsIgnored(t *testing.T) {
	var got []Event
	p := New(func(e Event) { got = append(got, e) })

	p.Feed([]byte("[GNUPG:] not_uppercase\n"))

	assert.Empty(t, got)
}

func TestPartialLineAccumulatesAcrossFeeds(t *testing.T) {
	var got []Event
	p := New(func(e Event) { got = append(got, e) })

	p.Feed([]byte("[GNUPG:] GOOD_PASS"))
	assert.Empty(t, got)
	p.Feed([]byte("PHRASE\n"))

	require.Len(t, got, 1)
	assert.Equal(t, KeywordGoodPassphrase, got[0].Keyword)
}

func TestMultipleLinesInOneFeed(t *testing.T) {
	var got []Event
	p := New(func(e Event) { got = append(got, e) })

	p.Feed([]byte("[GNUPG:] BEGIN\n[GNUPG:] FAILURE op 1\n[GNUPG:] ERROR op 2\n"))
	_ = got // BEGIN is unknown and ignored; two recognized lines follow

	require.Len(t, got, 2)
	assert.Equal(t, KeywordFailure, got[0].Keyword)
	assert.Equal(t, KeywordError, got[1].Keyword)
}

func TestFeedEOFDispatchesSyntheticEvent(t *testing.T) {
	var got []Event
	p := New(func(e Event) { got = append(got, e) })

	p.FeedEOF()

	require.Len(t, got, 1)
	assert.Equal(t, KeywordEOF, got[0].Keyword)
}

func TestKeywordStringRoundTrips(t *testing.T) {
	assert.Equal(t, "GOODSIG", KeywordGoodsig.String())
	assert.Equal(t, "EOF", KeywordEOF.String())
	assert.Equal(t, "UNKNOWN", KeywordUnknown.String())
}

func TestLargeChunkSpanningManyLinebufGrowths(t *testing.T) {
	var got []Event
	p := New(func(e Event) { got = append(got, e) })

	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'x'
	}
	line := "[GNUPG:] USERID_HINT " + string(long) + "\n"
	p.Feed([]byte(line))

	require.Len(t, got, 1)
	assert.Equal(t, KeywordUserIDHint, got[0].Keyword)
}
