package pipeline

import (
	"regexp"
	"strings"
)

// minSentenceLen avoids shipping tiny fragments like "Hi." to TTS on their
// own; they ride along with the next sentence instead.
const minSentenceLen = 12

// sentenceBuffer accumulates streamed reply fragments and releases complete
// sentences, so synthesis can start before the model finishes the reply.
type sentenceBuffer struct {
	b strings.Builder
}

// Add appends a fragment and returns a completed sentence when one is ready,
// or "" while mid-sentence.
func (s *sentenceBuffer) Add(fragment string) string {
	s.b.WriteString(fragment)
	text := s.b.String()

	cut := lastSentenceEnd(text)
	if cut < minSentenceLen {
		return ""
	}
	sentence := strings.TrimSpace(text[:cut])
	s.b.Reset()
	s.b.WriteString(text[cut:])
	return sentence
}

// Flush returns whatever remains, complete sentence or not.
func (s *sentenceBuffer) Flush() string {
	out := strings.TrimSpace(s.b.String())
	s.b.Reset()
	return out
}

// Reset discards buffered text.
func (s *sentenceBuffer) Reset() {
	s.b.Reset()
}

// lastSentenceEnd returns the index just past the last sentence terminator,
// or 0 when none qualifies. A terminator only counts when followed by a space
// or end of text, so "3.5" does not split.
func lastSentenceEnd(text string) int {
	for i := len(text) - 1; i >= 0; i-- {
		switch text[i] {
		case '.', '!', '?', '\n':
			if i == len(text)-1 || text[i+1] == ' ' || text[i+1] == '\n' {
				return i + 1
			}
		}
	}
	return 0
}

var (
	mdCodeBlock = regexp.MustCompile("(?s)```.*?```")
	mdInline    = regexp.MustCompile("[*_`#]+")
	mdLink      = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	spaces      = regexp.MustCompile(`[ \t]+`)
)

// normalizeForSpeech strips markup the model tends to emit so the TTS voice
// does not read asterisks and backticks aloud.
func normalizeForSpeech(text string) string {
	text = mdCodeBlock.ReplaceAllString(text, "")
	text = mdLink.ReplaceAllString(text, "$1")
	text = mdInline.ReplaceAllString(text, "")
	text = spaces.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
