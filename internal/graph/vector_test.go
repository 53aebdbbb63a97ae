package graph

import (
	"math"
	"testing"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"empty a", nil, []float32{1}, 0},
		{"length mismatch", []float32{1, 2}, []float32{1}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cosine(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Cosine() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCosine_Ordering(t *testing.T) {
	query := []float32{1, 1, 0, 0}
	near := []float32{1, 0.9, 0, 0}
	far := []float32{0, 0, 1, 1}

	if Cosine(query, near) <= Cosine(query, far) {
		t.Errorf("near = %v should beat far = %v", Cosine(query, near), Cosine(query, far))
	}
}

func TestVectorRoundTrip(t *testing.T) {
	in := []float32{0, 1, -1, 0.5, 3.1415927, -2.5e-3}
	out, err := DecodeVector(EncodeVector(in))
	if err != nil {
		t.Fatalf("DecodeVector() error = %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], in[i])
		}
	}
}

func TestVectorEncoding_Edges(t *testing.T) {
	if EncodeVector(nil) != nil {
		t.Error("EncodeVector(nil) should be nil")
	}
	if v, err := DecodeVector(nil); err != nil || v != nil {
		t.Errorf("DecodeVector(nil) = %v, %v", v, err)
	}
	if _, err := DecodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("DecodeVector should reject blobs with stray bytes")
	}
}
