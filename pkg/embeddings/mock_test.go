package embeddings

import (
	"context"
	"math"
	"testing"
)

func TestMockProvider_Deterministic(t *testing.T) {
	ctx := context.Background()
	p := NewMockProvider()

	a, err := p.EmbedText(ctx, "memory safety in rust")
	if err != nil {
		t.Fatalf("EmbedText failed: %v", err)
	}
	b, err := p.EmbedText(ctx, "memory safety in rust")
	if err != nil {
		t.Fatalf("EmbedText failed: %v", err)
	}

	if len(a) != DimensionMock {
		t.Fatalf("dimension = %d, want %d", len(a), DimensionMock)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("identical input produced different vectors at index %d", i)
		}
	}
}

func TestMockProvider_Normalized(t *testing.T) {
	ctx := context.Background()
	p := NewMockProvider()

	vec, err := p.EmbedText(ctx, "semantic graphs link concepts")
	if err != nil {
		t.Fatalf("EmbedText failed: %v", err)
	}

	mag := Magnitude(vec)
	if math.Abs(mag-1.0) > 1e-6 {
		t.Errorf("magnitude = %f, want 1 +- 1e-6", mag)
	}
}

func TestMockProvider_DifferentInputsDiffer(t *testing.T) {
	ctx := context.Background()
	p := NewMockProvider()

	a, _ := p.EmbedText(ctx, "rust programming")
	b, _ := p.EmbedText(ctx, "gardening tips")

	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("unrelated inputs produced identical vectors")
	}
}

func TestMockProvider_EmptyInput(t *testing.T) {
	ctx := context.Background()
	p := NewMockProvider()

	vec, err := p.EmbedText(ctx, "   ")
	if err != nil {
		t.Fatalf("EmbedText failed: %v", err)
	}
	if len(vec) != DimensionMock {
		t.Fatalf("dimension = %d, want %d", len(vec), DimensionMock)
	}
	if Magnitude(vec) != 0 {
		t.Error("empty input should produce the zero vector")
	}
}

func TestNoneProvider(t *testing.T) {
	ctx := context.Background()
	p := NewNoneProvider()

	vec, err := p.EmbedText(ctx, "anything")
	if err != nil {
		t.Fatalf("EmbedText failed: %v", err)
	}
	if vec != nil {
		t.Error("none provider must return a nil vector")
	}
	if p.Dimension() != 0 {
		t.Errorf("none dimension = %d, want 0", p.Dimension())
	}
}

func TestL2Normalize(t *testing.T) {
	vec := L2Normalize([]float32{3, 4})
	if math.Abs(Magnitude(vec)-1.0) > 1e-6 {
		t.Errorf("magnitude = %f", Magnitude(vec))
	}
	if math.Abs(float64(vec[0])-0.6) > 1e-6 || math.Abs(float64(vec[1])-0.8) > 1e-6 {
		t.Errorf("normalized vector = %v", vec)
	}
}
