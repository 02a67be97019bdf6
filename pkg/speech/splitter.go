// Package speech turns generated text into speakable chunks and caches the audio
// synthesized for them.
package speech

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// 两个首字母缩写，如 U.S.
var initialsPattern = regexp.MustCompile(`^[A-Z]\.[A-Z]\.$`)

var abbreviations = map[string]struct{}{
	"dr.": {}, "mr.": {}, "mrs.": {}, "ms.": {}, "prof.": {}, "sr.": {}, "jr.": {},
	"st.": {}, "vs.": {}, "etc.": {}, "inc.": {}, "ltd.": {}, "co.": {}, "corp.": {},
	"ave.": {}, "e.g.": {}, "i.e.": {},
}

// Chunks is a lazy, ordered sequence of speakable chunks produced from one text block.
// It is not safe for concurrent use and cannot be restarted.
type Chunks struct {
	words   []string
	pos     int
	max     int
	buf     []string
	pending []string
}

// Split prepares text for chunking under a budget of maxChars characters per chunk.
// maxChars must be positive.
func Split(text string, maxChars int) *Chunks {
	if maxChars <= 0 {
		panic("speech: maxChars must be positive")
	}
	return &Chunks{words: strings.Fields(text), max: maxChars}
}

// Next returns the next chunk, or false once the text is exhausted.
func (c *Chunks) Next() (string, bool) {
	for len(c.pending) == 0 {
		if c.pos >= len(c.words) {
			if len(c.buf) == 0 {
				return "", false
			}
			c.flush()
			continue
		}
		w := c.words[c.pos]
		c.pos++
		c.buf = append(c.buf, w)
		if isSentenceEnd(w) {
			c.flush()
		}
	}
	out := c.pending[0]
	c.pending = c.pending[1:]
	return out, true
}

// All drains the remaining chunks.
func (c *Chunks) All() []string {
	var out []string
	for s, ok := c.Next(); ok; s, ok = c.Next() {
		out = append(out, s)
	}
	return out
}

func (c *Chunks) flush() {
	sentence := strings.TrimSpace(strings.Join(c.buf, " "))
	c.buf = c.buf[:0]
	if sentence == "" {
		return
	}
	if utf8.RuneCountInString(sentence) > c.max {
		c.pending = append(c.pending, shorten(sentence, c.max)...)
		return
	}
	c.pending = append(c.pending, sentence)
}

func isSentenceEnd(word string) bool {
	if !strings.HasSuffix(word, ".") && !strings.HasSuffix(word, "!") && !strings.HasSuffix(word, "?") {
		return false
	}
	if _, ok := abbreviations[strings.ToLower(word)]; ok {
		return false
	}
	return !initialsPattern.MatchString(word)
}

// shorten packs comma-separated parts into chunks of at most max characters, counting
// the ", " joiner, and hard-wraps any part that is longer than max on its own.
func shorten(sentence string, max int) []string {
	var out []string
	current := ""
	for _, part := range strings.Split(sentence, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		partLen := utf8.RuneCountInString(part)
		if partLen > max {
			if current != "" {
				out = append(out, current)
				current = ""
			}
			out = append(out, hardWrap(part, max)...)
			continue
		}
		switch {
		case current == "":
			current = part
		case utf8.RuneCountInString(current)+partLen+2 <= max:
			current += ", " + part
		default:
			out = append(out, current)
			current = part
		}
	}
	if current != "" {
		out = append(out, current)
	}
	return out
}

func hardWrap(s string, width int) []string {
	runes := []rune(s)
	out := make([]string, 0, (len(runes)+width-1)/width)
	for start := 0; start < len(runes); start += width {
		out = append(out, string(runes[start:min(start+width, len(runes))]))
	}
	return out
}
