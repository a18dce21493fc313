// Package exclusion owns the permanent/temporary owner exclude sets, reloaded
// from a line-oriented file on change. The snapshot is guarded by a
// sync.RWMutex and swapped atomically on reload as a pair of owner-handle
// sets.
package exclusion

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// UserResolver maps an exclusion-file username to the owner handle used
// elsewhere in the system. The real mapping lives in the identifier service;
// this interface keeps that lookup out of this package.
type UserResolver interface {
	ResolveOwner(username string) (ownerID string, ok bool)
}

// IdentityResolver resolves every username to itself; useful when owner
// handles already are the exclusion file's usernames.
type IdentityResolver struct{}

// ResolveOwner implements UserResolver.
func (IdentityResolver) ResolveOwner(username string) (string, bool) { return username, true }

type snapshot struct {
	permanent map[string]struct{}
	temporary map[string]struct{}
}

// Registry is the process-wide, mutable exclusion state.
type Registry struct {
	path     string
	resolver UserResolver
	debounce time.Duration

	mu           sync.RWMutex
	current      snapshot
	fileModTime  time.Time
	lastCheckAt  time.Time
}

// New creates a Registry that reloads path, resolving usernames with resolver.
// debounce is the minimum interval between stat attempts (spec default 10s).
func New(path string, resolver UserResolver, debounce time.Duration) *Registry {
	if resolver == nil {
		resolver = IdentityResolver{}
	}
	return &Registry{
		path:     path,
		resolver: resolver,
		debounce: debounce,
		current:  snapshot{permanent: map[string]struct{}{}, temporary: map[string]struct{}{}},
	}
}

// Refresh stats the configured path; if the mtime is unchanged, or less than
// the debounce interval elapsed since the last stat, it returns immediately.
// On a changed mtime it parses the file and atomically swaps the sets. A
// malformed line or unknown username aborts the reload, retains the previous
// sets, and still advances the tracked mtime so a broken file cannot cause a
// hot loop.
func (r *Registry) Refresh(now time.Time) error {
	r.mu.RLock()
	since := now.Sub(r.lastCheckAt)
	r.mu.RUnlock()
	if since < r.debounce && !r.lastCheckAt.IsZero() {
		return nil
	}

	info, err := os.Stat(r.path)
	if err != nil {
		r.mu.Lock()
		r.lastCheckAt = now
		r.mu.Unlock()
		return fmt.Errorf("stat exclusion file %q: %w", r.path, err)
	}

	r.mu.RLock()
	unchanged := info.ModTime().Equal(r.fileModTime)
	r.mu.RUnlock()

	r.mu.Lock()
	r.lastCheckAt = now
	r.mu.Unlock()

	if unchanged {
		return nil
	}

	permanent, temporary, err := parseFile(r.path, r.resolver)
	if err != nil {
		// Retain the previous sets but advance mtime so we don't hot-loop on
		// a persistently broken file.
		r.mu.Lock()
		r.fileModTime = info.ModTime()
		r.mu.Unlock()
		return fmt.Errorf("load exclusion file %q: %w", r.path, err)
	}

	r.mu.Lock()
	r.current = snapshot{permanent: permanent, temporary: temporary}
	r.fileModTime = info.ModTime()
	r.mu.Unlock()
	return nil
}

// IsPermanent reports whether owner is permanently excluded.
func (r *Registry) IsPermanent(owner string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.current.permanent[owner]
	return ok
}

// IsTemporary reports whether owner is temporarily excluded.
func (r *Registry) IsTemporary(owner string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.current.temporary[owner]
	return ok
}

// IsExcluded reports whether owner is excluded under either set.
func (r *Registry) IsExcluded(owner string) bool {
	return r.IsPermanent(owner) || r.IsTemporary(owner)
}

func parseFile(path string, resolver UserResolver) (permanent, temporary map[string]struct{}, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	permanent = map[string]struct{}{}
	temporary = map[string]struct{}{}

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, nil, fmt.Errorf("line %d: expected \"<username> permanent|temporary\", got %q", lineNo, line)
		}
		username, kind := fields[0], fields[1]
		owner, ok := resolver.ResolveOwner(username)
		if !ok {
			return nil, nil, fmt.Errorf("line %d: unknown username %q", lineNo, username)
		}
		switch kind {
		case "permanent":
			permanent[owner] = struct{}{}
		case "temporary":
			temporary[owner] = struct{}{}
		default:
			return nil, nil, fmt.Errorf("line %d: unknown kind %q (want permanent or temporary)", lineNo, kind)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("scan: %w", err)
	}
	return permanent, temporary, nil
}
