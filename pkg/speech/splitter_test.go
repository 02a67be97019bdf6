package speech

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitSingleSentence(t *testing.T) {
	assert.Equal(t, []string{"Hello world."}, Split("Hello world.", 1000).All())
}

func TestSplitEmptyInput(t *testing.T) {
	assert.Empty(t, Split("", 100).All())
	assert.Empty(t, Split("  \n\t ", 100).All())
}

func TestSplitKeepsAbbreviations(t *testing.T) {
	got := Split("Dr. Smith went home. He left early.", 1000).All()
	assert.Equal(t, []string{"Dr. Smith went home.", "He left early."}, got)
}

func TestSplitMixedPunctuation(t *testing.T) {
	got := Split("Hello world. Dr. Jones said hi! How are you?", 100).All()
	require.Len(t, got, 3)
	assert.Equal(t, []string{"Hello world.", "Dr. Jones said hi!", "How are you?"}, got)
	for _, c := range got {
		assert.LessOrEqual(t, len(c), 100)
	}
}

func TestSplitInitials(t *testing.T) {
	got := Split("She moved to the U.S. last year. It was cold.", 1000).All()
	assert.Equal(t, []string{"She moved to the U.S. last year.", "It was cold."}, got)
}

func TestSplitAbbreviationCaseInsensitive(t *testing.T) {
	got := Split("Apples VS. oranges is a classic. Done.", 1000).All()
	assert.Equal(t, []string{"Apples VS. oranges is a classic.", "Done."}, got)
}

func TestSplitHardWrapsLongSentence(t *testing.T) {
	sentence := strings.Repeat("abcd ", 49) + "abcd."
	require.Len(t, sentence, 250)

	got := Split(sentence, 100).All()
	require.Len(t, got, 3)
	assert.Len(t, got[0], 100)
	assert.Len(t, got[1], 100)
	assert.Len(t, got[2], 50)
	assert.Equal(t, sentence, strings.Join(got, ""))
}

func TestSplitPacksCommaParts(t *testing.T) {
	text := "first part here, second part here, third part here, fourth part here."
	got := Split(text, 40).All()
	assert.Equal(t, []string{
		"first part here, second part here",
		"third part here, fourth part here.",
	}, got)
	for _, c := range got {
		assert.LessOrEqual(t, len(c), 40)
	}
}

func TestSplitCommaPartLongerThanMax(t *testing.T) {
	got := Split("short, "+strings.Repeat("x", 25)+", tail.", 10).All()
	assert.Equal(t, []string{"short", "xxxxxxxxxx", "xxxxxxxxxx", "xxxxx", "tail."}, got)
}

func TestSplitFlushesUnterminatedTail(t *testing.T) {
	got := Split("One. two three", 100).All()
	assert.Equal(t, []string{"One.", "two three"}, got)
}

func TestSplitCollapsesWhitespace(t *testing.T) {
	got := Split("  Hello \n\n  there   friend.  ", 100).All()
	assert.Equal(t, []string{"Hello there friend."}, got)
}

func TestSplitCountsRunes(t *testing.T) {
	got := Split(strings.Repeat("é", 25)+".", 10).All()
	require.Len(t, got, 3)
	for _, c := range got {
		assert.True(t, utf8.ValidString(c))
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 10)
	}
}

func TestSplitIsLazy(t *testing.T) {
	c := Split("A. B. C.", 100)
	first, ok := c.Next()
	require.True(t, ok)
	assert.Equal(t, "A.", first)
	assert.Equal(t, 1, c.pos, "only the first word should have been consumed")
	assert.Equal(t, []string{"B.", "C."}, c.All())
	_, ok = c.Next()
	assert.False(t, ok)
}

func TestSplitPanicsOnNonPositiveBudget(t *testing.T) {
	assert.Panics(t, func() { Split("hi.", 0) })
}
