package tfidf

import (
	"context"
	"errors"
	"math"
	"testing"
)

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func TestEmbedBeforeFit(t *testing.T) {
	e := NewEmbedder()
	if _, err := e.Embed(context.Background(), []string{"money"}); !errors.Is(err, ErrNotFitted) {
		t.Fatalf("expected ErrNotFitted, got %v", err)
	}
}

func TestFitRejectsEmptyCorpus(t *testing.T) {
	if err := NewEmbedder().Fit(nil); err == nil {
		t.Error("expected an error for an empty corpus")
	}
}

func TestEmbedRanksOverlappingTextHigher(t *testing.T) {
	corpus := []string{
		"Finance addresses the management of money and investments.",
		"Public finance includes tax systems and government expenditures.",
		"The BFSI sector is a critical element of the economy.",
	}
	e := NewEmbedder()
	if err := e.Fit(corpus); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if e.Dimension() == 0 {
		t.Fatal("expected a vocabulary")
	}

	docs, err := e.Embed(context.Background(), corpus)
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	for i, v := range docs {
		if len(v) != e.Dimension() {
			t.Fatalf("doc %d has dimension %d", i, len(v))
		}
		if n := math.Sqrt(dot(v, v)); math.Abs(n-1) > 1e-5 {
			t.Errorf("doc %d not normalized: %f", i, n)
		}
	}

	q, err := e.Embed(context.Background(), []string{"What is public finance"})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	best, bestScore := -1, -1.0
	for i, v := range docs {
		if s := dot(q[0], v); s > bestScore {
			best, bestScore = i, s
		}
	}
	if best != 1 {
		t.Errorf("expected doc 1 closest, got %d", best)
	}
}

func TestUnknownTermsEmbedToZero(t *testing.T) {
	e := NewEmbedder()
	if err := e.Fit([]string{"alpha beta"}); err != nil {
		t.Fatal(err)
	}
	v, err := e.Embed(context.Background(), []string{"gamma"})
	if err != nil {
		t.Fatal(err)
	}
	if dot(v[0], v[0]) != 0 {
		t.Errorf("expected zero vector, got %v", v[0])
	}
}
