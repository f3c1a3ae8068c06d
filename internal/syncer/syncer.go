// Package syncer reconciles on-disk repository contents with the vector
// store: a periodic pass asks the change detector whether each indexed
// working tree moved since the last sync and re-indexes the ones that did.
// Sync is best-effort; it never takes the service down.
package syncer

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/codectx-dev/codectx/internal/gitutil"
	"github.com/codectx-dev/codectx/internal/indexer"
	"github.com/codectx-dev/codectx/internal/logger"
	"github.com/codectx-dev/codectx/internal/metrics"
	"github.com/codectx-dev/codectx/internal/registry"
	"github.com/codectx-dev/codectx/internal/snapshot"
)

// ChangeDetector decides whether a working tree changed since the recorded
// state. The Merkle-tree differ is an external collaborator behind this
// interface; GitDetector is the built-in implementation.
type ChangeDetector interface {
	// Changed returns whether the tree at path differs from the given
	// digest, plus the new digest, plus changed paths when known (empty
	// means unknown, forcing a full re-index).
	Changed(ctx context.Context, path, lastDigest string) (changed bool, digest string, changedPaths []string)
}

// GitDetector detects change from the HEAD commit plus working-tree status.
type GitDetector struct {
	git *gitutil.Runner
}

// NewGitDetector creates the built-in detector.
func NewGitDetector(git *gitutil.Runner) *GitDetector {
	return &GitDetector{git: git}
}

// Changed implements ChangeDetector. The digest is "<head>|<status hash>",
// so when only the HEAD moved the changed file set comes from
// `git diff --name-only <lastHead> <head>` and the re-index stays targeted.
func (d *GitDetector) Changed(ctx context.Context, path, lastDigest string) (bool, string, []string) {
	raw, ok := d.git.StatusDigest(ctx, path)
	if !ok {
		return false, lastDigest, nil
	}
	head, status, _ := strings.Cut(raw, "\n")
	sum := sha1.Sum([]byte(status))
	digest := head + "|" + hex.EncodeToString(sum[:])
	if digest == lastDigest {
		return false, digest, nil
	}

	var changedPaths []string
	lastHead, lastStatus, hadLast := strings.Cut(lastDigest, "|")
	if hadLast && lastHead != "" && lastHead != head && lastStatus == hex.EncodeToString(sum[:]) {
		if out, ok := d.git.Run(ctx, path, "diff", "--name-only", lastHead, head); ok && out != "" {
			changedPaths = strings.Split(out, "\n")
		}
	}
	return true, digest, changedPaths
}

// Syncer runs the background reconcile loop.
type Syncer struct {
	registry *registry.Registry
	indexer  *indexer.Indexer
	detector ChangeDetector
	log      *logger.Logger
	interval time.Duration

	mu      sync.Mutex
	digests map[string]string // canonicalID → last seen digest
	nudged  map[string]bool   // canonicalID → sync requested by watcher

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Syncer.
func New(reg *registry.Registry, ix *indexer.Indexer, detector ChangeDetector, interval time.Duration, log *logger.Logger) *Syncer {
	return &Syncer{
		registry: reg,
		indexer:  ix,
		detector: detector,
		log:      log,
		interval: interval,
		digests:  map[string]string{},
		nudged:   map[string]bool{},
		done:     make(chan struct{}),
	}
}

// Start launches the loop. watch enables filesystem-event nudges on
// registered repository roots.
func (s *Syncer) Start(ctx context.Context, watch bool) {
	ctx, s.cancel = context.WithCancel(ctx)

	if watch {
		if watcher, err := fsnotify.NewWatcher(); err != nil {
			s.log.Warn("filesystem watcher unavailable, falling back to interval only", "err", err)
		} else {
			s.watcher = watcher
			go s.watchLoop(ctx)
		}
	}

	go s.run(ctx)
}

// Stop cancels the loop and waits for it to exit.
func (s *Syncer) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
	if s.watcher != nil {
		_ = s.watcher.Close()
	}
}

func (s *Syncer) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pass(ctx)
		}
	}
}

// pass reconciles every indexed repository once. A panic anywhere in the
// pass is logged and swallowed.
func (s *Syncer) pass(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("sync pass panicked", "recover", r)
			metrics.SyncRuns.WithLabelValues("panic").Inc()
		}
	}()

	for _, record := range s.registry.ListIndexed() {
		if ctx.Err() != nil {
			return
		}
		s.syncRepo(ctx, record)
	}
	metrics.SyncRuns.WithLabelValues("ok").Inc()
}

func (s *Syncer) syncRepo(ctx context.Context, record *snapshot.RepoRecord) {
	if len(record.KnownPaths) == 0 {
		return
	}
	path := record.KnownPaths[0]
	collectionName := record.CollectionName()
	if collectionName == "" {
		return
	}

	s.mu.Lock()
	lastDigest := s.digests[record.CanonicalID]
	nudged := s.nudged[record.CanonicalID]
	delete(s.nudged, record.CanonicalID)
	s.mu.Unlock()

	changed, digest, changedPaths := s.detector.Changed(ctx, path, lastDigest)
	if !changed && !nudged {
		return
	}
	if !changed && nudged && lastDigest != "" {
		// watcher fired but the detector disagrees; trust the detector
		return
	}

	s.mu.Lock()
	s.digests[record.CanonicalID] = digest
	s.mu.Unlock()

	if lastDigest == "" && !nudged {
		// first observation of this repo; just record the baseline
		return
	}

	// serialize with any foreground indexing on the same repo
	lock := s.registry.RepoLock(record.CanonicalID)
	lock.Lock()
	defer lock.Unlock()

	s.log.Info("sync: re-indexing changed repository",
		"canonicalId", record.CanonicalID, "path", path, "changedFiles", len(changedPaths))

	var err error
	if len(changedPaths) > 0 {
		_, err = s.indexer.Reindex(ctx, path, collectionName, changedPaths)
	} else {
		_, err = s.indexer.Index(ctx, path, collectionName, indexer.Options{}, nil)
	}
	if err != nil {
		s.log.Warn("sync re-index failed", "canonicalId", record.CanonicalID, "err", err)
		metrics.SyncRuns.WithLabelValues("failed").Inc()
	}
}

// watchLoop forwards filesystem events on registered repo roots into nudges
// for the next pass. Watches are refreshed lazily each interval.
func (s *Syncer) watchLoop(ctx context.Context) {
	refresh := time.NewTicker(s.interval)
	defer refresh.Stop()

	watched := map[string]string{} // root → canonicalID
	addWatches := func() {
		for _, record := range s.registry.ListIndexed() {
			if len(record.KnownPaths) == 0 {
				continue
			}
			root := record.KnownPaths[0]
			if _, ok := watched[root]; ok {
				continue
			}
			if err := s.watcher.Add(root); err != nil {
				s.log.Debug("cannot watch repository root", "path", root, "err", err)
				continue
			}
			watched[root] = record.CanonicalID
		}
	}
	addWatches()

	for {
		select {
		case <-ctx.Done():
			return
		case <-refresh.C:
			addWatches()
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			for root, id := range watched {
				if strings.HasPrefix(event.Name, root) {
					s.mu.Lock()
					s.nudged[id] = true
					s.mu.Unlock()
				}
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Debug("watcher error", "err", err)
		}
	}
}
