package search

import (
	"fmt"

	"github.com/codectx-dev/codectx/internal/vectorstore"
)

// Mode selects how per-collection scores are rescaled before merging.
type Mode string

const (
	// ModeRaw keeps raw cosine similarities. Correct when every collection
	// was embedded with the same model and metric, which is the common
	// single-provider deployment; it is the default.
	ModeRaw Mode = "raw"
	// ModeMinMax rescales each collection's batch to [0,1] (min→0, max→1),
	// for deployments with heterogeneous collections. A degenerate
	// all-equal batch maps to all 1.
	ModeMinMax Mode = "minmax"
)

func normalizationMode(s string) (Mode, error) {
	switch s {
	case "", string(ModeRaw):
		return ModeRaw, nil
	case string(ModeMinMax):
		return ModeMinMax, nil
	default:
		return "", fmt.Errorf("unknown score normalization %q (want raw or minmax)", s)
	}
}

type scoredHit struct {
	chunk vectorstore.ScoredChunk
	score float64
}

// normalize rescales one collection's batch of scores according to mode.
func normalize(mode Mode, hits []vectorstore.ScoredChunk) []scoredHit {
	out := make([]scoredHit, len(hits))

	if mode == ModeRaw || len(hits) == 0 {
		for i, h := range hits {
			out[i] = scoredHit{chunk: h, score: h.Score}
		}
		return out
	}

	min, max := hits[0].Score, hits[0].Score
	for _, h := range hits[1:] {
		if h.Score < min {
			min = h.Score
		}
		if h.Score > max {
			max = h.Score
		}
	}

	for i, h := range hits {
		score := 1.0
		if max > min {
			score = (h.Score - min) / (max - min)
		}
		out[i] = scoredHit{chunk: h, score: score}
	}
	return out
}
