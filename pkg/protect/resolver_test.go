package protect

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	t.Run("Higher Confidence Wins", func(t *testing.T) {
		spans := []Span{
			{Type: TypeName, Start: 0, End: 10, Confidence: 0.7, Source: SourceModel},
			{Type: TypeCURP, Start: 5, End: 12, Confidence: 1.0, Source: SourceRule},
		}
		resolved, rejected := Resolve(spans, 20)
		require.Len(t, resolved, 1)
		assert.Equal(t, TypeCURP, resolved[0].Type)
		require.Len(t, rejected, 1)
		assert.Equal(t, TypeName, rejected[0].Span.Type)
	})

	t.Run("Longer Span Wins On Equal Confidence", func(t *testing.T) {
		spans := []Span{
			{Type: TypePhone, Start: 4, End: 8, Confidence: 1.0},
			{Type: TypeAddress, Start: 0, End: 12, Confidence: 1.0},
		}
		resolved, _ := Resolve(spans, 20)
		require.Len(t, resolved, 1)
		assert.Equal(t, TypeAddress, resolved[0].Type)
	})

	t.Run("Type Priority Breaks Length Ties", func(t *testing.T) {
		spans := []Span{
			{Type: TypeName, Start: 0, End: 18, Confidence: 1.0},
			{Type: TypeCURP, Start: 0, End: 18, Confidence: 1.0},
		}
		resolved, _ := Resolve(spans, 18)
		require.Len(t, resolved, 1)
		assert.Equal(t, TypeCURP, resolved[0].Type)
	})

	t.Run("Output Ordered By Start", func(t *testing.T) {
		spans := []Span{
			{Type: TypeDate, Start: 30, End: 40, Confidence: 1.0},
			{Type: TypeName, Start: 0, End: 5, Confidence: 0.6},
			{Type: TypeCURP, Start: 10, End: 28, Confidence: 1.0},
		}
		resolved, rejected := Resolve(spans, 40)
		assert.Empty(t, rejected)
		require.Len(t, resolved, 3)
		assert.Equal(t, []int{0, 10, 30}, []int{resolved[0].Start, resolved[1].Start, resolved[2].Start})
		assert.NoError(t, resolved.Validate(40))
	})

	t.Run("Adjacent Spans Do Not Overlap", func(t *testing.T) {
		spans := []Span{
			{Type: TypeName, Start: 0, End: 5, Confidence: 1.0},
			{Type: TypeName, Start: 5, End: 10, Confidence: 1.0},
		}
		resolved, _ := Resolve(spans, 10)
		assert.Len(t, resolved, 2)
	})

	t.Run("Invalid Spans Are Rejected Not Coerced", func(t *testing.T) {
		spans := []Span{
			{Type: TypeName, Start: 3, End: 3, Confidence: 1.0},
			{Type: TypeName, Start: 5, End: 2, Confidence: 1.0},
			{Type: TypeName, Start: 8, End: 25, Confidence: 1.0},
			{Type: TypeName, Start: -1, End: 2, Confidence: 1.0},
			{Type: TypeName, Start: 0, End: 2, Confidence: 1.5},
		}
		resolved, rejected := Resolve(spans, 20)
		assert.Empty(t, resolved)
		require.Len(t, rejected, 5)
		assert.Equal(t, "zero-length span", rejected[0].Reason)
		assert.Equal(t, "inverted span", rejected[1].Reason)
		assert.Equal(t, "span outside document", rejected[2].Reason)
		assert.Equal(t, "span outside document", rejected[3].Reason)
		assert.Equal(t, "confidence outside [0,1]", rejected[4].Reason)
	})

	t.Run("Default Priority From Type", func(t *testing.T) {
		resolved, _ := Resolve([]Span{{Type: TypeRFC, Start: 0, End: 4, Confidence: 1}}, 4)
		require.Len(t, resolved, 1)
		assert.Equal(t, TypePriority(TypeRFC), resolved[0].Priority)
	})
}

func TestResolveAdversarial(t *testing.T) {
	// 全部候选互相重叠，只能留下一个
	var spans []Span
	for i := 0; i < 50; i++ {
		spans = append(spans, Span{
			Type:       []Type{TypeName, TypeLocation, TypeCURP, TypeDate}[i%4],
			Start:      i % 7,
			End:        60 - i%5,
			Confidence: float64(i%3) / 2,
			Source:     SourceModel,
		})
	}
	resolved, rejected := Resolve(spans, 60)
	require.Len(t, resolved, 1)
	assert.Len(t, rejected, 49)

	// 随机区间
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		n := rng.Intn(40) + 1
		spans := make([]Span, n)
		for i := range spans {
			start := rng.Intn(100)
			spans[i] = Span{
				Type:       TypeName,
				Start:      start,
				End:        start + rng.Intn(15) + 1,
				Confidence: rng.Float64(),
			}
		}
		resolved, rejected := Resolve(spans, 120)
		require.NoError(t, resolved.Validate(120))
		assert.Equal(t, n, len(resolved)+len(rejected))
		for i := 1; i < len(resolved); i++ {
			assert.LessOrEqual(t, resolved[i-1].End, resolved[i].Start)
		}
	}
}

func TestResolveDeterminism(t *testing.T) {
	base := []Span{
		{Type: TypeName, Start: 0, End: 10, Confidence: 0.9, Source: SourceModel},
		{Type: TypeLocation, Start: 0, End: 10, Confidence: 0.9, Source: SourceModel},
		{Type: TypeName, Start: 0, End: 10, Confidence: 0.9, Source: SourceRule},
		{Type: TypeName, Start: 2, End: 12, Confidence: 0.9, Source: SourceModel},
		{Type: TypeDate, Start: 20, End: 30, Confidence: 1.0, Source: SourceRule},
		{Type: TypeDate, Start: 21, End: 31, Confidence: 1.0, Source: SourceRule},
	}
	want, _ := Resolve(base, 40)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 100; i++ {
		shuffled := make([]Span, len(base))
		copy(shuffled, base)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got, _ := Resolve(shuffled, 40)
		assert.Equal(t, want, got)
	}

	require.Len(t, want, 2)
	assert.Equal(t, TypeName, want[0].Type)
	assert.Equal(t, SourceModel, want[0].Source)
	assert.Equal(t, 20, want[1].Start)
}
