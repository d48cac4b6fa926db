package splitter

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dshills/docpack-mcp/pkg/types"
)

const (
	// DefaultChunkSize is the target window size in characters.
	DefaultChunkSize = 1500

	// DefaultChunkOverlap is the number of trailing characters repeated at
	// the start of the next window.
	DefaultChunkOverlap = 200
)

// Piece is one window of the input text. Content is always the exact
// substring text[StartOffset:EndOffset].
type Piece struct {
	Content     string
	StartOffset int
	EndOffset   int
}

// Splitter divides raw text into overlapping windows, cutting on paragraph
// boundaries where possible, then sentence boundaries, then whitespace, and
// only as a last resort inside a word.
type Splitter struct {
	targetSize int
	overlap    int
}

// New creates a Splitter. Overlap must be smaller than the target size; the
// violation is a configuration error reported here, not at Split time.
func New(targetSize, overlap int) (*Splitter, error) {
	if targetSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", types.ErrConfiguration, targetSize)
	}
	if overlap < 0 || overlap >= targetSize {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", types.ErrConfiguration, overlap, targetSize)
	}
	return &Splitter{targetSize: targetSize, overlap: overlap}, nil
}

// TargetSize returns the configured window size.
func (s *Splitter) TargetSize() int { return s.targetSize }

// Overlap returns the configured overlap.
func (s *Splitter) Overlap() int { return s.overlap }

// Split produces an ordered, finite, deterministic sequence of pieces.
// Successive pieces overlap by roughly the configured amount, and each
// piece's start strictly advances, so concatenating the non-overlapping
// regions text[start_i:start_i+1] reconstructs the input exactly. Empty
// input yields no pieces; any non-empty input yields at least one.
func (s *Splitter) Split(text string) []Piece {
	if text == "" {
		return nil
	}

	var pieces []Piece
	start := 0
	for start < len(text) {
		end := s.cutPoint(text, start)
		pieces = append(pieces, Piece{
			Content:     text[start:end],
			StartOffset: start,
			EndOffset:   end,
		})
		if end >= len(text) {
			break
		}
		start = s.nextStart(text, start, end)
	}
	return pieces
}

// cutPoint picks the end of the window starting at start.
func (s *Splitter) cutPoint(text string, start int) int {
	limit := start + s.targetSize
	if limit >= len(text) {
		return len(text)
	}

	// Paragraph boundary: cut just after the blank line.
	if idx := strings.LastIndex(text[start:limit], "\n\n"); idx > 0 {
		return start + idx + 2
	}

	// Sentence boundary: cut after terminal punctuation followed by space,
	// or after a newline.
	if idx := lastSentenceEnd(text[start:limit]); idx > 0 {
		return start + idx
	}

	// Word boundary: cut after the last whitespace run.
	if idx := lastWhitespaceEnd(text[start:limit]); idx > 0 {
		return start + idx
	}

	// Hard cut. Never split a multi-byte rune.
	for limit > start+1 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return limit
}

// nextStart backs up from end by the overlap, then advances to a word
// boundary so the overlap region never begins mid-word. Always returns a
// position in (start, end] so every byte stays covered and progress is
// guaranteed.
func (s *Splitter) nextStart(text string, start, end int) int {
	next := end - s.overlap
	if next <= start {
		next = start + 1
	}

	// Advance past a partial word.
	if next > 0 && next < len(text) && !isBoundary(text, next) {
		for next < end && !isBoundary(text, next) {
			next++
		}
	}
	for next > start+1 && !utf8.RuneStart(text[next]) {
		next--
	}
	if next > end {
		next = end
	}
	return next
}

// isBoundary reports whether position i begins a new word (the previous rune
// is whitespace or i is at a rune after whitespace).
func isBoundary(text string, i int) bool {
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return unicode.IsSpace(r)
}

// lastSentenceEnd returns the offset just past the last sentence terminator
// within s, or 0 when none exists.
func lastSentenceEnd(s string) int {
	for i := len(s) - 1; i > 0; i-- {
		c := s[i]
		if c == '\n' {
			return i + 1
		}
		if (c == ' ' || c == '\t') && i > 0 {
			switch s[i-1] {
			case '.', '!', '?':
				return i + 1
			}
		}
	}
	return 0
}

// lastWhitespaceEnd returns the offset just past the last whitespace rune in
// s, or 0 when s contains none.
func lastWhitespaceEnd(s string) int {
	for i := len(s) - 1; i > 0; i-- {
		if s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r' {
			return i + 1
		}
	}
	return 0
}

// LineRange converts a piece's byte offsets into 1-indexed start/end lines
// within the original text.
func LineRange(text string, p Piece) (startLine, endLine int) {
	startLine = 1 + strings.Count(text[:p.StartOffset], "\n")
	endLine = startLine + strings.Count(p.Content, "\n")
	// A trailing newline belongs to the line it terminates.
	if strings.HasSuffix(p.Content, "\n") {
		endLine--
	}
	if endLine < startLine {
		endLine = startLine
	}
	return startLine, endLine
}
