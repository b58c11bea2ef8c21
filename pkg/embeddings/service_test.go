package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// failingProvider always errors, standing in for a hosted outage.
type failingProvider struct{}

func (p *failingProvider) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("provider unreachable")
}
func (p *failingProvider) Dimension() int     { return 8 }
func (p *failingProvider) ProviderID() string { return "failing" }

func TestService_ProviderFailureDowngradedToWarning(t *testing.T) {
	svc := NewService(&failingProvider{})

	vec := svc.EmbedText(context.Background(), "some note")
	if vec != nil {
		t.Error("failed provider must yield a nil vector, not an error")
	}

	warnings := svc.Warnings()
	if len(warnings) != 1 {
		t.Fatalf("warning count = %d, want 1", len(warnings))
	}
	// Warnings drain on read.
	if len(svc.Warnings()) != 0 {
		t.Error("warnings were not drained")
	}
}

func TestService_EmbedNodeJoinsTitleAndBody(t *testing.T) {
	mock := NewMockProvider()
	svc := NewService(mock)
	ctx := context.Background()

	joined, _ := mock.EmbedText(ctx, "Title\nBody text")
	viaNode := svc.EmbedNode(ctx, "Title", "Body text")

	for i := range joined {
		if joined[i] != viaNode[i] {
			t.Fatal("EmbedNode does not match title+newline+body embedding")
		}
	}
}

// countingProvider counts calls through the cache.
type countingProvider struct {
	calls int32
	inner Provider
}

func (p *countingProvider) EmbedText(ctx context.Context, text string) ([]float32, error) {
	atomic.AddInt32(&p.calls, 1)
	return p.inner.EmbedText(ctx, text)
}
func (p *countingProvider) Dimension() int     { return p.inner.Dimension() }
func (p *countingProvider) ProviderID() string { return p.inner.ProviderID() }

func TestCachedProvider_SkipsRepeatCalls(t *testing.T) {
	counting := &countingProvider{inner: NewMockProvider()}
	cached := NewCachedProvider(counting)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := cached.EmbedText(ctx, "same query"); err != nil {
			t.Fatalf("EmbedText failed: %v", err)
		}
	}
	if n := atomic.LoadInt32(&counting.calls); n != 1 {
		t.Errorf("provider called %d times, want 1", n)
	}
}

func TestSelect_Variants(t *testing.T) {
	cases := []struct {
		id      string
		wantDim int
		wantErr bool
	}{
		{"local", DimensionLocal, false},
		{"mock", DimensionMock, false},
		{"none", 0, false},
		{"hosted-A", 0, true}, // no key
		{"hosted-B", 0, true}, // no key
		{"bogus", 0, true},
	}
	for _, tc := range cases {
		p, err := Select(tc.id, "", "", "", "")
		if tc.wantErr {
			if err == nil {
				t.Errorf("Select(%q) expected error", tc.id)
			}
			continue
		}
		if err != nil {
			t.Errorf("Select(%q) failed: %v", tc.id, err)
			continue
		}
		if p.Dimension() != tc.wantDim {
			t.Errorf("Select(%q) dimension = %d, want %d", tc.id, p.Dimension(), tc.wantDim)
		}
	}
}

func TestSelect_HostedWithKeys(t *testing.T) {
	a, err := Select("hosted-A", "", "", "key-a", "")
	if err != nil {
		t.Fatalf("hosted-A: %v", err)
	}
	if a.Dimension() != DimensionHostedA {
		t.Errorf("hosted-A dimension = %d", a.Dimension())
	}
	b, err := Select("hosted-B", "", "", "", "key-b")
	if err != nil {
		t.Fatalf("hosted-B: %v", err)
	}
	if b.Dimension() != DimensionHostedB {
		t.Errorf("hosted-B dimension = %d", b.Dimension())
	}
}

func TestHostedAProvider_RetriesOn5xx(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		embedding := make([]float32, DimensionHostedA)
		embedding[0] = 1
		resp := hostedAResponse{}
		resp.Data = append(resp.Data, struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}{Embedding: embedding, Index: 0})
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := NewHostedAProvider("test-key")
	p.BaseURL = server.URL
	p.retry.initialDelay = 0
	p.retry.maxDelay = 0

	vec, err := p.EmbedText(context.Background(), "retry me")
	if err != nil {
		t.Fatalf("EmbedText failed after retries: %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("server saw %d calls, want 3", calls)
	}
	if math.Abs(Magnitude(vec)-1.0) > 1e-6 {
		t.Errorf("result not normalized: %f", Magnitude(vec))
	}
}

func TestHostedAProvider_NoRetryOn4xx(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	p := NewHostedAProvider("bad-key")
	p.BaseURL = server.URL
	p.retry.initialDelay = 0

	if _, err := p.EmbedText(context.Background(), "x"); err == nil {
		t.Fatal("expected error on 401")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("server saw %d calls, want 1 (no retry on 4xx)", calls)
	}
}
