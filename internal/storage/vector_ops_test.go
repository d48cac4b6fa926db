package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorSerializationRoundTrip(t *testing.T) {
	original := []float32{0.1, -0.2, 0.3, 1e-9, 12345.678, 0}

	blob := SerializeVector(original)
	require.Len(t, blob, len(original)*4)

	restored := DeserializeVector(blob)
	assert.Equal(t, original, restored)
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0.0},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestCosineSimilarityScaleInvariant(t *testing.T) {
	a := []float32{0.3, 0.7, -0.2}
	b := []float32{0.6, 1.4, -0.4} // a scaled by 2
	assert.InDelta(t, 1.0, CosineSimilarity(a, b), 1e-6)
}

func TestSanitizeFTSQuery(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"punctuation only", "?! --", ""},
		{"single term", "paris", `"paris"`},
		{"multiple terms", "capital of france", `"capital" OR "of" OR "france"`},
		{"operators are quoted literals", "cats AND dogs", `"cats" OR "AND" OR "dogs"`},
		{"injection characters stripped", `"; DROP TABLE chunks; --`, `"DROP" OR "TABLE" OR "chunks"`},
		{"unicode terms", "café naïve", `"café" OR "naïve"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeFTSQuery(tt.input))
		})
	}
}
