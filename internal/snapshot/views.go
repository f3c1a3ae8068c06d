package snapshot

import "sort"

// Legacy views derive the pre-v3 shapes from v3 state so callers written
// against the old snapshot formats keep working.

// IndexedCodebases returns every known path of every indexed repository,
// sorted. This is the v1 indexedCodebases view.
func IndexedCodebases(repos map[string]*RepoRecord) []string {
	var out []string
	for _, record := range repos {
		if record.IsIndexed() {
			out = append(out, record.KnownPaths...)
		}
	}
	sort.Strings(out)
	return out
}

// IndexingCodebases returns path→progress for every repository currently
// indexing. This is the late-v1 indexingCodebases view.
func IndexingCodebases(repos map[string]*RepoRecord) map[string]float64 {
	out := map[string]float64{}
	for _, record := range repos {
		st, ok := record.DefaultBranchState()
		if !ok || st.Status != StatusIndexing {
			continue
		}
		pct := 0.0
		if st.IndexingPercentage != nil {
			pct = *st.IndexingPercentage
		}
		for _, path := range record.KnownPaths {
			out[path] = pct
		}
	}
	return out
}

// InfoForPath returns the v2 per-path view of the repository registered at
// path.
func InfoForPath(repos map[string]*RepoRecord, path string) (CodebaseInfo, bool) {
	for _, record := range repos {
		if !record.HasPath(path) {
			continue
		}
		st, ok := record.DefaultBranchState()
		if !ok {
			return CodebaseInfo{}, false
		}
		info := CodebaseInfo{
			LastUpdated: flexTime{st.LastIndexed},
		}
		switch st.Status {
		case StatusIndexed:
			info.Status = "indexed"
			info.IndexedFiles = st.IndexedFiles
			info.TotalChunks = st.TotalChunks
		case StatusIndexing:
			info.Status = "indexing"
			if st.IndexingPercentage != nil {
				info.IndexingPercentage = *st.IndexingPercentage
			}
		case StatusFailed:
			info.Status = "indexfailed"
			info.ErrorMessage = st.ErrorMessage
		}
		return info, true
	}
	return CodebaseInfo{}, false
}
