package collection

import (
	"strings"
	"testing"
)

func TestNameShapes(t *testing.T) {
	n := Namer{}
	legacy := n.LegacyName("/tmp/repo")
	canonical := n.CanonicalName("abc123")

	if !strings.HasPrefix(legacy, "code_chunks_") {
		t.Errorf("legacy name %q missing prefix", legacy)
	}
	if got := len(strings.TrimPrefix(legacy, "code_chunks_")); got != 8 {
		t.Errorf("legacy hash length = %d, want 8", got)
	}
	if got := len(strings.TrimPrefix(canonical, "code_chunks_")); got != 12 {
		t.Errorf("canonical hash length = %d, want 12", got)
	}

	hybrid := Namer{Hybrid: true}
	if !strings.HasPrefix(hybrid.LegacyName("/tmp/repo"), "hybrid_code_chunks_") {
		t.Error("hybrid prefix missing")
	}
	// the hash itself must not depend on the hybrid prefix
	if strings.TrimPrefix(hybrid.LegacyName("/tmp/repo"), "hybrid_") != legacy {
		t.Error("hybrid and plain legacy names disagree on the hash")
	}
}

func TestNamesAreDeterministic(t *testing.T) {
	n := Namer{}
	if n.LegacyName("/tmp/a") != n.LegacyName("/tmp/a") {
		t.Error("legacy name not deterministic")
	}
	if n.CanonicalName("id1") != n.CanonicalName("id1") {
		t.Error("canonical name not deterministic")
	}
	if n.LegacyName("/tmp/a") == n.LegacyName("/tmp/b") {
		t.Error("distinct paths produced the same legacy name")
	}
	if n.CanonicalName("id1") == n.CanonicalName("id2") {
		t.Error("distinct IDs produced the same canonical name")
	}
}

func TestResolveNamePolicy(t *testing.T) {
	n := Namer{}
	path, id := "/tmp/repo", "canonical-id"
	legacy := n.LegacyName(path)
	canonical := n.CanonicalName(id)

	t.Run("legacy collection wins and records a mapping", func(t *testing.T) {
		var recorded []Mapping
		res := n.ResolveName(path, id, map[string]bool{legacy: true}, func(m Mapping) {
			recorded = append(recorded, m)
		})
		if res.Name != legacy || !res.IsLegacy || !res.Exists {
			t.Errorf("unexpected resolution %+v", res)
		}
		if len(recorded) != 1 || recorded[0].OldName != legacy || recorded[0].NewName != canonical {
			t.Errorf("unexpected mapping %+v", recorded)
		}
	})

	t.Run("existing canonical collection", func(t *testing.T) {
		res := n.ResolveName(path, id, map[string]bool{canonical: true}, nil)
		if res.Name != canonical || res.IsLegacy || !res.Exists {
			t.Errorf("unexpected resolution %+v", res)
		}
	})

	t.Run("nothing exists yet", func(t *testing.T) {
		res := n.ResolveName(path, id, map[string]bool{}, nil)
		if res.Name != canonical || res.IsLegacy || res.Exists {
			t.Errorf("unexpected resolution %+v", res)
		}
	})
}

// Invariant: repeated calls with the same existing-collection set return the
// same name.
func TestResolveNameIdempotent(t *testing.T) {
	n := Namer{Hybrid: true}
	existing := map[string]bool{n.LegacyName("/tmp/r"): true}

	first := n.ResolveName("/tmp/r", "id", existing, nil)
	for i := 0; i < 5; i++ {
		again := n.ResolveName("/tmp/r", "id", existing, nil)
		if again != first {
			t.Fatalf("resolution changed between calls: %+v vs %+v", first, again)
		}
	}
}
