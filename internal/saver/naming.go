package saver

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/JakeFAU/harvester/internal/crawler"
)

// namer turns filename templates into object paths and enforces the collision
// rule. Reservations cover paths claimed by in-flight workers that the store
// cannot see yet.
type namer struct {
	store crawler.BlobStore
	runID string

	mu       sync.Mutex
	reserved map[string]struct{}
}

func newNamer(store crawler.BlobStore, runID string) *namer {
	return &namer{store: store, runID: runID, reserved: make(map[string]struct{})}
}

// render formats target's template and joins it under target.Dir. Each path
// segment is sanitized on its own so templates may introduce subdirectories.
func (n *namer) render(target crawler.StorageTargetPolicy, values map[string]string) string {
	values["run"] = n.runID
	name := crawler.FormatTemplate(target.FilenameTemplate, values)
	name = strings.TrimSuffix(name, ".")

	segments := strings.Split(path.Join(target.Dir, name), "/")
	out := segments[:0]
	for _, seg := range segments {
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		if safe := crawler.SafeName(seg); safe != "" {
			out = append(out, safe)
		}
	}
	if len(out) == 0 {
		return "artifact"
	}
	return strings.Join(out, "/")
}

// claim resolves the collision rule for base. skip reports that the artifact
// must not be written.
func (n *namer) claim(ctx context.Context, rule crawler.Collision, base string) (p string, skip bool, err error) {
	switch rule {
	case crawler.CollisionOverwrite:
		n.mu.Lock()
		n.reserved[base] = struct{}{}
		n.mu.Unlock()
		return base, false, nil
	case crawler.CollisionSkip:
		ok, err := n.reserve(ctx, base)
		if err != nil {
			return base, false, err
		}
		return base, !ok, nil
	default:
		ext := path.Ext(base)
		stem := strings.TrimSuffix(base, ext)
		for i := 0; ; i++ {
			candidate := base
			if i > 0 {
				candidate = stem + "_" + strconv.Itoa(i) + ext
			}
			ok, err := n.reserve(ctx, candidate)
			if err != nil {
				return "", false, err
			}
			if ok {
				return candidate, false, nil
			}
		}
	}
}

// release drops a reservation after a failed write.
func (n *namer) release(p string) {
	n.mu.Lock()
	delete(n.reserved, p)
	n.mu.Unlock()
}

// reserve takes p unless another worker holds it or the store already has it.
// The store is queried without mu held; the reservation set is rechecked
// afterwards.
func (n *namer) reserve(ctx context.Context, p string) (bool, error) {
	if n.isReserved(p) {
		return false, nil
	}
	exists, err := n.store.Exists(ctx, p)
	if err != nil {
		return false, fmt.Errorf("check %s: %w", p, err)
	}
	if exists {
		return false, nil
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.reserved[p]; ok {
		return false, nil
	}
	n.reserved[p] = struct{}{}
	return true, nil
}

func (n *namer) isReserved(p string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.reserved[p]
	return ok
}
