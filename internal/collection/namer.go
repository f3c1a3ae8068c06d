// Package collection computes vector-store collection names and tracks the
// migration from legacy path-hash names to canonical identity-hash names.
package collection

import (
	"crypto/md5"
	"encoding/hex"
)

// The hash truncation lengths are the compatibility contract with existing
// indices and must not change.
const (
	legacyHashLen    = 8
	canonicalHashLen = 12
	baseName         = "code_chunks_"
	hybridPrefix     = "hybrid_"
)

// Namer computes deterministic collection names. Hybrid selects the
// dense+sparse naming scheme used when the vector store runs in hybrid mode.
type Namer struct {
	Hybrid bool
}

// LegacyName returns the path-hash collection name used before canonical
// identities existed: [hybrid_]code_chunks_<md5(absolutePath)[:8]>.
func (n Namer) LegacyName(absolutePath string) string {
	return n.prefix() + baseName + md5Hex(absolutePath)[:legacyHashLen]
}

// CanonicalName returns the identity-hash collection name:
// [hybrid_]code_chunks_<md5(canonicalId)[:12]>.
func (n Namer) CanonicalName(canonicalID string) string {
	return n.prefix() + baseName + md5Hex(canonicalID)[:canonicalHashLen]
}

func (n Namer) prefix() string {
	if n.Hybrid {
		return hybridPrefix
	}
	return ""
}

func md5Hex(input string) string {
	sum := md5.Sum([]byte(input))
	return hex.EncodeToString(sum[:])
}

// Resolution is the outcome of ResolveName.
type Resolution struct {
	Name     string
	IsLegacy bool
	Exists   bool
}

// ResolveName picks the collection for a repository given the set of
// collections that currently exist in the vector store.
//
// A surviving legacy collection wins so existing indices keep working; a
// migration mapping is recorded through record so the one-shot migrator can
// rename it later. Otherwise the canonical name is used, whether or not it
// exists yet.
func (n Namer) ResolveName(absolutePath, canonicalID string, existing map[string]bool, record func(Mapping)) Resolution {
	legacy := n.LegacyName(absolutePath)
	canonical := n.CanonicalName(canonicalID)

	if existing[legacy] {
		if record != nil {
			record(Mapping{
				OldName:     legacy,
				NewName:     canonical,
				CanonicalID: canonicalID,
				Path:        absolutePath,
			})
		}
		return Resolution{Name: legacy, IsLegacy: true, Exists: true}
	}
	if existing[canonical] {
		return Resolution{Name: canonical, Exists: true}
	}
	return Resolution{Name: canonical}
}
