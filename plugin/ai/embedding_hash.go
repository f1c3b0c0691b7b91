package ai

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"unicode"
)

// HashEmbeddingService is a deterministic local embedder based on feature
// hashing of word unigrams and character trigrams. Texts sharing no
// features are orthogonal, which keeps similarity scores interpretable
// for development corpora.
type HashEmbeddingService struct {
	dimensions int
}

// NewHashEmbeddingService returns a hashing embedder producing vectors of
// the given width (DefaultDimensions when <= 0).
func NewHashEmbeddingService(dimensions int) *HashEmbeddingService {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &HashEmbeddingService{dimensions: dimensions}
}

func (s *HashEmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vector := make([]float32, s.dimensions)
	for _, feature := range features(text) {
		s.add(vector, feature, 1)
	}
	// The exact text gets a light feature of its own so inputs differing
	// only in case or word order still map to distinct vectors.
	s.add(vector, "raw:"+text, 0.25)
	normalize(vector)
	return vector, nil
}

func (s *HashEmbeddingService) add(vector []float32, feature string, weight float32) {
	sum := sha256.Sum256([]byte(feature))
	index := binary.BigEndian.Uint32(sum[:4]) % uint32(s.dimensions)
	if sum[4]&1 == 1 {
		weight = -weight
	}
	vector[index] += weight
}

func (s *HashEmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("no texts provided for embedding")
	}
	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vector, err := s.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, vector)
	}
	return vectors, nil
}

func (s *HashEmbeddingService) Dimensions() int {
	return s.dimensions
}

// features yields lowercase words plus the character trigrams of each word.
func features(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	out := make([]string, 0, len(words)*4)
	for _, word := range words {
		out = append(out, "w:"+word)
		padded := []rune("^" + word + "$")
		for i := 0; i+3 <= len(padded); i++ {
			out = append(out, "t:"+string(padded[i:i+3]))
		}
	}
	return out
}

func normalize(vector []float32) {
	var sum float64
	for _, v := range vector {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vector {
		vector[i] /= norm
	}
}
