// Package hotword manages the domain-term registry fed to ASR providers.
//
// Hotwords live in a JSON file mapping category names to word lists, with an
// optional "mappings" section of per-category alias → canonical rewrites:
//
//	{
//	  "products": ["MinuteKit", "FunASR"],
//	  "people": ["张伟", "李娜"],
//	  "mappings": {"products": {"minute kid": "MinuteKit"}}
//	}
//
// Top-level keys whose value is not a word list (a description string, say)
// are ignored.
//
// The registry keeps an immutable snapshot behind a RWMutex pointer swap, so
// readers never observe a half-applied reload. [Registry.Render] produces the
// merged, deduplicated string handed to ASR providers, capped at a configured
// character budget. A background poller can reload the file when its content
// changes; an invalid file keeps the previous snapshot in place.
package hotword

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/minutekit/minutekit/pkg/meeting"
)

// DefaultMaxRenderChars caps the rendered hotword string. FunASR degrades
// sharply past a few KB of hints, so the budget is enforced here rather than
// in each provider.
const DefaultMaxRenderChars = 4096

// snapshot is an immutable view of the hotword file. A reload builds a fresh
// snapshot and swaps the pointer.
type snapshot struct {
	categories map[string][]string
	mappings   map[string]string // alias (lowercased) → canonical, all categories merged
	words      []string          // deduplicated, category-sorted order
	rendered   string
}

// Registry holds the current hotword snapshot. Safe for concurrent use.
type Registry struct {
	path           string
	maxRenderChars int

	mu   sync.RWMutex
	snap *snapshot

	// last known file state for change detection
	lastMtime time.Time
	lastHash  [sha256.Size]byte

	done     chan struct{}
	stopOnce sync.Once
}

// Option is a functional option for [New].
type Option func(*Registry)

// WithMaxRenderChars overrides the rendered-string budget.
// Values below 1 are ignored.
func WithMaxRenderChars(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxRenderChars = n
		}
	}
}

// New creates a Registry backed by the JSON file at path and performs the
// initial load. The file must exist and parse; a missing or malformed file at
// startup is an error (later reloads tolerate it and keep the old snapshot).
func New(path string, opts ...Option) (*Registry, error) {
	r := &Registry{
		path:           path,
		maxRenderChars: DefaultMaxRenderChars,
		done:           make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}

	snap, hash, mtime, err := r.loadAndHash()
	if err != nil {
		return nil, fmt.Errorf("hotword: initial load: %w", err)
	}
	r.snap = snap
	r.lastHash = hash
	r.lastMtime = mtime
	return r, nil
}

// Empty returns a Registry with no hotwords and no backing file. Render
// returns "" and Reload is a no-op. Used when hotwords are not configured.
func Empty() *Registry {
	return &Registry{
		maxRenderChars: DefaultMaxRenderChars,
		snap:           &snapshot{categories: map[string][]string{}},
		done:           make(chan struct{}),
	}
}

// Words returns the deduplicated hotword list of the current snapshot.
// The returned slice must not be mutated.
func (r *Registry) Words() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap.words
}

// Mappings returns the merged alias → canonical rewrite table with
// lowercased alias keys. The returned map must not be mutated.
func (r *Registry) Mappings() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap.mappings
}

// Categories returns a copy of the category → word-list mapping.
func (r *Registry) Categories() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]string, len(r.snap.categories))
	for k, v := range r.snap.categories {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Render returns the merged hotword string for ASR providers: all words
// joined by single spaces, truncated at a word boundary so the result never
// exceeds the configured budget.
func (r *Registry) Render() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap.rendered
}

// Reload re-reads the backing file and swaps in a new snapshot. When the file
// is unchanged it returns (false, nil). When the file is missing or invalid
// the old snapshot stays active and the error is returned.
func (r *Registry) Reload() (changed bool, err error) {
	if r.path == "" {
		return false, nil
	}

	snap, hash, mtime, err := r.loadAndHash()
	if err != nil {
		return false, fmt.Errorf("hotword: reload: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if hash == r.lastHash {
		r.lastMtime = mtime
		return false, nil
	}
	r.snap = snap
	r.lastHash = hash
	r.lastMtime = mtime
	return true, nil
}

// StartAutoReload begins polling the backing file every interval and swapping
// in changed content. It uses polling (not fsnotify) to keep dependencies
// minimal, same trade-off as the config loader. Call [Registry.Stop] to end
// polling.
func (r *Registry) StartAutoReload(interval time.Duration) {
	if r.path == "" {
		return
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.done:
				return
			case <-ticker.C:
				r.check()
			}
		}
	}()
}

// Stop ends auto-reload polling. Safe to call more than once.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
	})
}

// check performs one poll iteration: a cheap mtime test, then a full reload
// when the file looks changed.
func (r *Registry) check() {
	info, err := os.Stat(r.path)
	if err != nil {
		slog.Warn("hotword watcher: cannot stat file", "path", r.path, "err", err)
		return
	}

	r.mu.RLock()
	mtime := r.lastMtime
	r.mu.RUnlock()

	if info.ModTime().Equal(mtime) {
		return
	}

	changed, err := r.Reload()
	if err != nil {
		slog.Warn("hotword watcher: reload failed, keeping previous snapshot", "path", r.path, "err", err)
		return
	}
	if changed {
		slog.Info("hotword watcher: hotwords reloaded", "path", r.path, "words", len(r.Words()))
	}
}

// loadAndHash reads and parses the backing file, returning the snapshot
// alongside the file content hash and modification time.
func (r *Registry) loadAndHash() (*snapshot, [sha256.Size]byte, time.Time, error) {
	var zeroHash [sha256.Size]byte

	info, err := os.Stat(r.path)
	if err != nil {
		return nil, zeroHash, time.Time{}, err
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, zeroHash, time.Time{}, err
	}

	snap, err := parse(data, r.maxRenderChars)
	if err != nil {
		return nil, zeroHash, time.Time{}, err
	}
	return snap, sha256.Sum256(data), info.ModTime(), nil
}

// parse decodes the category JSON and builds the deduplicated word list and
// rendered string. Categories are processed in sorted order so the render is
// deterministic across reloads. Keys that are not word lists are skipped;
// the "mappings" key holds per-category alias tables.
func parse(data []byte, maxRenderChars int) (*snapshot, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, meeting.Wrap(meeting.KindBadInput, fmt.Errorf("parse hotword json: %w", err))
	}

	categories := make(map[string][]string)
	mappings := make(map[string]string)
	for key, value := range raw {
		if key == "mappings" {
			var perCategory map[string]map[string]string
			if err := json.Unmarshal(value, &perCategory); err != nil {
				return nil, meeting.Wrap(meeting.KindBadInput, fmt.Errorf("parse hotword mappings: %w", err))
			}
			for _, table := range perCategory {
				for alias, canonical := range table {
					alias = strings.ToLower(strings.TrimSpace(alias))
					if alias == "" || canonical == "" {
						continue
					}
					mappings[alias] = canonical
				}
			}
			continue
		}
		var list []string
		if err := json.Unmarshal(value, &list); err != nil {
			// Descriptions and other non-list values are allowed and skipped.
			continue
		}
		categories[key] = list
	}

	names := make([]string, 0, len(categories))
	for name := range categories {
		names = append(names, name)
	}
	sort.Strings(names)

	seen := make(map[string]struct{})
	var words []string
	for _, name := range names {
		for _, w := range categories[name] {
			w = strings.TrimSpace(w)
			if w == "" {
				continue
			}
			if _, dup := seen[w]; dup {
				continue
			}
			seen[w] = struct{}{}
			words = append(words, w)
		}
	}

	return &snapshot{
		categories: categories,
		mappings:   mappings,
		words:      words,
		rendered:   render(words, maxRenderChars),
	}, nil
}

// render joins words with single spaces, stopping at the last word that fits
// within the budget. A word is never split.
func render(words []string, maxChars int) string {
	var b strings.Builder
	for _, w := range words {
		need := len(w)
		if b.Len() > 0 {
			need++ // separator
		}
		if b.Len()+need > maxChars {
			break
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(w)
	}
	return b.String()
}
