// Package changeset resolves the candidate attribute list of a review:
// either from the upstream CI evaluation artifact or by diffing two
// local evaluation snapshots of the package tree.
package changeset

import (
	"context"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/joescharf/nixpkgs-review/internal/models"
	"github.com/joescharf/nixpkgs-review/internal/nix"
	"github.com/joescharf/nixpkgs-review/internal/output"
)

// chunkFactor times NumCPU gives the shard count for a snapshot pass;
// oversharding bounds the tail latency of slow chunks.
const chunkFactor = 4

// Snapshot is one evaluation pass over the package tree: the
// attr -> out-path table plus the attributes whose chunks persistently
// failed to evaluate.
type Snapshot struct {
	OutPaths map[string]string
	Failed   []string
}

// Resolver computes candidate attribute sets.
type Resolver struct {
	Nix *nix.Options
	UI  *output.UI
}

// TakeSnapshot evaluates the whole attribute tree of the current
// worktree state for one system, sharded into chunks. A failing chunk
// is retried once with its halves; attributes of chunks that still
// fail are reported in Snapshot.Failed rather than aborting the pass.
func (r *Resolver) TakeSnapshot(ctx context.Context, system models.System) (*Snapshot, error) {
	names, err := r.Nix.ListAttrNames(ctx, system)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{OutPaths: make(map[string]string, len(names))}
	chunks := splitChunks(names, chunkFactor*runtime.NumCPU())

	var (
		g, gctx = errgroup.WithContext(ctx)
		mu      sync.Mutex
	)
	g.SetLimit(runtime.NumCPU())

	for _, chunk := range chunks {
		g.Go(func() error {
			paths, failed := r.evalChunk(gctx, system, chunk, true)
			mu.Lock()
			for attr, p := range paths {
				snap.OutPaths[attr] = p
			}
			snap.Failed = append(snap.Failed, failed...)
			mu.Unlock()
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Strings(snap.Failed)
	return snap, nil
}

// evalChunk evaluates one shard, halving and retrying once on failure.
func (r *Resolver) evalChunk(ctx context.Context, system models.System, attrs []string, retry bool) (map[string]string, []string) {
	paths, err := r.Nix.OutPathsOf(ctx, system, attrs)
	if err == nil {
		return paths, nil
	}
	if !retry || len(attrs) <= 1 {
		r.UI.Warning("chunk of %d attrs failed to evaluate on %s: %v", len(attrs), system, err)
		return nil, attrs
	}

	mid := len(attrs) / 2
	leftPaths, leftFailed := r.evalChunk(ctx, system, attrs[:mid], false)
	rightPaths, rightFailed := r.evalChunk(ctx, system, attrs[mid:], false)
	merged := make(map[string]string, len(leftPaths)+len(rightPaths))
	for a, p := range leftPaths {
		merged[a] = p
	}
	for a, p := range rightPaths {
		merged[a] = p
	}
	return merged, append(leftFailed, rightFailed...)
}

// Changed diffs two snapshots: an attribute is a rebuild candidate when
// it is new in the merged tree or its output path changed. Attributes
// that failed to evaluate in the merged pass are included so the
// dispatcher can surface them as broken.
func Changed(base, merged *Snapshot) []string {
	seen := map[string]struct{}{}
	var out []string
	for attr, path := range merged.OutPaths {
		if basePath, ok := base.OutPaths[attr]; !ok || basePath != path {
			if _, dup := seen[attr]; !dup {
				seen[attr] = struct{}{}
				out = append(out, attr)
			}
		}
	}
	for _, attr := range merged.Failed {
		if _, dup := seen[attr]; !dup {
			seen[attr] = struct{}{}
			out = append(out, attr)
		}
	}
	sort.Strings(out)
	return out
}

// splitChunks splits names into at most n contiguous chunks of roughly
// equal size.
func splitChunks(names []string, n int) [][]string {
	if n < 1 {
		n = 1
	}
	if len(names) == 0 {
		return nil
	}
	if n > len(names) {
		n = len(names)
	}
	chunks := make([][]string, 0, n)
	size := (len(names) + n - 1) / n
	for start := 0; start < len(names); start += size {
		end := start + size
		if end > len(names) {
			end = len(names)
		}
		chunks = append(chunks, names[start:end])
	}
	return chunks
}
