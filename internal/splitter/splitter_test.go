package splitter

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/docpack-mcp/pkg/types"
)

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name       string
		targetSize int
		overlap    int
		wantErr    bool
	}{
		{"valid", 100, 20, false},
		{"zero overlap", 100, 0, false},
		{"zero size", 0, 0, true},
		{"negative size", -1, 0, true},
		{"negative overlap", 100, -1, true},
		{"overlap equals size", 100, 100, true},
		{"overlap exceeds size", 100, 150, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.targetSize, tt.overlap)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, types.ErrConfiguration))
				assert.Nil(t, s)
			} else {
				require.NoError(t, err)
				require.NotNil(t, s)
			}
		})
	}
}

func TestSplitEmptyInput(t *testing.T) {
	s, err := New(100, 10)
	require.NoError(t, err)
	assert.Empty(t, s.Split(""))
}

func TestSplitSmallInput(t *testing.T) {
	s, err := New(100, 10)
	require.NoError(t, err)

	pieces := s.Split("hello world")
	require.Len(t, pieces, 1)
	assert.Equal(t, "hello world", pieces[0].Content)
	assert.Equal(t, 0, pieces[0].StartOffset)
	assert.Equal(t, 11, pieces[0].EndOffset)
}

func TestSplitPrefersParagraphBoundary(t *testing.T) {
	s, err := New(40, 5)
	require.NoError(t, err)

	text := "First paragraph here.\n\nSecond paragraph follows with more words."
	pieces := s.Split(text)
	require.GreaterOrEqual(t, len(pieces), 2)
	assert.Equal(t, "First paragraph here.\n\n", pieces[0].Content)
}

func TestSplitPrefersSentenceBoundary(t *testing.T) {
	s, err := New(40, 5)
	require.NoError(t, err)

	text := "One short sentence. Another sentence that runs a bit longer here."
	pieces := s.Split(text)
	require.GreaterOrEqual(t, len(pieces), 2)
	assert.Equal(t, "One short sentence. ", pieces[0].Content)
}

func TestSplitNeverInsideWords(t *testing.T) {
	s, err := New(25, 5)
	require.NoError(t, err)

	text := "alpha bravo charlie delta echo foxtrot golf hotel india"
	pieces := s.Split(text)
	for i, p := range pieces {
		if p.StartOffset > 0 {
			assert.Equal(t, byte(' '), text[p.StartOffset-1], "piece %d starts mid-word: %q", i, p.Content)
		}
		if p.EndOffset < len(text) {
			assert.True(t, strings.HasSuffix(p.Content, " "), "piece %d ends mid-word: %q", i, p.Content)
		}
	}
}

func TestSplitHardCutLongWord(t *testing.T) {
	s, err := New(10, 2)
	require.NoError(t, err)

	text := strings.Repeat("x", 35)
	pieces := s.Split(text)
	require.NotEmpty(t, pieces)
	for _, p := range pieces {
		assert.LessOrEqual(t, len(p.Content), 10)
	}
	assert.Equal(t, len(text), pieces[len(pieces)-1].EndOffset)
}

// Concatenating each piece's non-overlapping region must reconstruct the
// original text exactly.
func TestSplitRoundTrip(t *testing.T) {
	texts := []string{
		"hello world",
		"First paragraph.\n\nSecond paragraph with several more words in it.\n\nThird.",
		"One. Two. Three. Four. Five. Six. Seven. Eight. Nine. Ten. Eleven. Twelve.",
		strings.Repeat("word ", 500),
		strings.Repeat("z", 100),
		"unicode: héllo wörld — ünïcode text should survive splitting intact. " + strings.Repeat("más palabras aquí. ", 30),
	}

	configs := []struct{ size, overlap int }{
		{30, 0}, {30, 10}, {100, 25}, {1500, 200},
	}

	for _, cfg := range configs {
		s, err := New(cfg.size, cfg.overlap)
		require.NoError(t, err)

		for _, text := range texts {
			pieces := s.Split(text)
			require.NotEmpty(t, pieces)

			var b strings.Builder
			for i, p := range pieces {
				assert.Equal(t, text[p.StartOffset:p.EndOffset], p.Content)
				if i+1 < len(pieces) {
					next := pieces[i+1]
					require.Greater(t, next.StartOffset, p.StartOffset, "starts must strictly advance")
					require.LessOrEqual(t, next.StartOffset, p.EndOffset, "coverage gap")
					b.WriteString(text[p.StartOffset:next.StartOffset])
				} else {
					b.WriteString(p.Content)
				}
			}
			assert.Equal(t, text, b.String(), "size=%d overlap=%d", cfg.size, cfg.overlap)
		}
	}
}

func TestSplitDeterministic(t *testing.T) {
	s, err := New(50, 10)
	require.NoError(t, err)

	text := strings.Repeat("deterministic output please. ", 20)
	first := s.Split(text)
	second := s.Split(text)
	assert.Equal(t, first, second)
}

func TestLineRange(t *testing.T) {
	text := "line one\nline two\nline three\n"
	p := Piece{Content: "line two\n", StartOffset: 9, EndOffset: 18}
	start, end := LineRange(text, p)
	assert.Equal(t, 2, start)
	assert.Equal(t, 2, end)

	whole := Piece{Content: text, StartOffset: 0, EndOffset: len(text)}
	start, end = LineRange(text, whole)
	assert.Equal(t, 1, start)
	assert.Equal(t, 3, end)
}
