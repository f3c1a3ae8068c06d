package vectorstore

import (
	"math"
	"testing"
)

func TestEncodeSparseDeterministic(t *testing.T) {
	i1, v1 := EncodeSparse("func handleRequest(w http.ResponseWriter)")
	i2, v2 := EncodeSparse("func handleRequest(w http.ResponseWriter)")

	if len(i1) == 0 {
		t.Fatal("no sparse terms produced")
	}
	if len(i1) != len(i2) {
		t.Fatal("encoding not deterministic in length")
	}
	for k := range i1 {
		if i1[k] != i2[k] || v1[k] != v2[k] {
			t.Fatal("encoding not deterministic")
		}
	}
}

func TestEncodeSparseNormalized(t *testing.T) {
	_, values := EncodeSparse("alpha beta beta gamma gamma gamma")
	var norm float64
	for _, v := range values {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("L2 norm = %v, want 1", norm)
	}
}

func TestEncodeSparseEmpty(t *testing.T) {
	if indices, _ := EncodeSparse("  . ! ?  "); indices != nil {
		t.Errorf("punctuation-only input produced terms: %v", indices)
	}
}

func TestEncodeSparseSharedTokens(t *testing.T) {
	qi, _ := EncodeSparse("resolveIdentity")
	ci, _ := EncodeSparse("func resolveIdentity(path string) {}")

	found := false
	for _, q := range qi {
		for _, c := range ci {
			if q == c {
				found = true
			}
		}
	}
	if !found {
		t.Error("query and chunk sharing a token have no common sparse index")
	}
}
