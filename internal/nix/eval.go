package nix

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/joescharf/nixpkgs-review/internal/models"
	"github.com/joescharf/nixpkgs-review/internal/runner"
)

// EvalError is a fatal evaluation failure: without a complete
// per-system attribute map the review would be silently incomplete.
type EvalError struct {
	System string
	Reason string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("evaluation for %s failed: %s", e.System, e.Reason)
}

// derivationMeta is the wire schema emitted by evalAttrs.nix.
type derivationMeta struct {
	Exists  bool               `json:"exists"`
	Broken  bool               `json:"broken"`
	DrvPath *string            `json:"drvPath"`
	Outputs map[string]*string `json:"outputs"`
}

// validate enforces the DerivationMeta invariants; a violation means
// the expression and this binary disagree about the schema and the
// whole review is unreliable.
func (m *derivationMeta) validate(name string) error {
	if m.Broken && m.DrvPath != nil {
		return fmt.Errorf("attr %s: broken but has drvPath", name)
	}
	if !m.Broken && m.DrvPath == nil {
		return fmt.Errorf("attr %s: not broken but missing drvPath", name)
	}
	if !m.Exists && !m.Broken {
		return fmt.Errorf("attr %s: nonexistent but not marked broken", name)
	}
	for out, p := range m.Outputs {
		if p == nil {
			return fmt.Errorf("attr %s: output %s has null path", name, out)
		}
	}
	return nil
}

// EvalAttrs resolves the attribute list for one system in the merged
// worktree. Aliases resolving to a derivation another attribute already
// claims are folded into that attribute's alias list rather than
// reported separately.
func (o *Options) EvalAttrs(ctx context.Context, system models.System, attrs []string) ([]*models.Attr, error) {
	return o.evalAttrs(ctx, system, attrs, o.IncludePassthruTests)
}

func (o *Options) evalAttrs(ctx context.Context, system models.System, attrs []string, includeTests bool) ([]*models.Attr, error) {
	if len(attrs) == 0 {
		return nil, nil
	}
	sorted := append([]string(nil), attrs...)
	sort.Strings(sorted)

	attrJSON, err := json.Marshal(sorted)
	if err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(o.CacheDir, "attrs-*.json")
	if err != nil {
		return nil, fmt.Errorf("write attr list: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(attrJSON); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("write attr list: %w", err)
	}
	_ = tmp.Close()

	exprPath, err := o.exprFile("evalAttrs.nix")
	if err != nil {
		return nil, err
	}
	configPath, err := o.WriteConfigFile()
	if err != nil {
		return nil, err
	}

	expr := fmt.Sprintf(
		`import %s { attrs-json = %s; include-passthru-tests = %v; nixpkgs-path = %s; nixpkgs-config-path = %s; system = %q; }`,
		exprPath, tmp.Name(), includeTests, o.WorktreeDir, configPath, system)

	args := append([]string{"nix"}, experimentalFeatures...)
	args = append(args,
		"--system", system,
		"eval", "--json", "--impure",
		"--expr", expr,
	)
	res, err := runner.Run(ctx, runner.Command{Args: args})
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, &EvalError{System: system, Reason: res.Stderr}
	}

	var raw map[string]derivationMeta
	if err := json.Unmarshal([]byte(res.Stdout), &raw); err != nil {
		return nil, &EvalError{System: system, Reason: fmt.Sprintf("bad evaluator output: %v", err)}
	}
	return foldAttrs(system, raw)
}

// foldAttrs converts the raw map into Attr values, validating the
// schema and folding duplicate derivations (aliases) together. The
// attribute with the shorter name wins; the longer one becomes an
// alias.
func foldAttrs(system models.System, raw map[string]derivationMeta) ([]*models.Attr, error) {
	byDrv := make(map[string]*models.Attr)
	var attrs []*models.Attr

	for _, name := range sortedMetaKeys(raw) {
		meta := raw[name]
		if err := meta.validate(name); err != nil {
			return nil, &EvalError{System: system, Reason: err.Error()}
		}
		a := &models.Attr{
			Name:     name,
			Exists:   meta.Exists,
			Broken:   meta.Broken,
			OutPaths: map[string]string{},
		}
		if meta.DrvPath != nil {
			a.DrvPath = *meta.DrvPath
		}
		for out, p := range meta.Outputs {
			a.OutPaths[out] = *p
		}

		if a.DrvPath == "" {
			attrs = append(attrs, a)
			continue
		}
		other, ok := byDrv[a.DrvPath]
		if !ok {
			byDrv[a.DrvPath] = a
			attrs = append(attrs, a)
			continue
		}
		if len(a.Name) < len(other.Name) {
			// The shorter path is canonical; swap contents so the
			// already-listed entry keeps its slot.
			other.Aliases = append(other.Aliases, other.Name)
			other.Name = a.Name
		} else {
			other.Aliases = append(other.Aliases, a.Name)
		}
		sort.Strings(other.Aliases)
	}
	return attrs, nil
}

func sortedMetaKeys(m map[string]derivationMeta) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EvalSystems runs EvalAttrs for each system concurrently.
func (o *Options) EvalSystems(ctx context.Context, attrsPerSystem map[models.System][]string) (map[models.System][]*models.Attr, error) {
	var (
		g, gctx = errgroup.WithContext(ctx)
		results = make(map[models.System][]*models.Attr, len(attrsPerSystem))
		mu      sync.Mutex
	)
	g.SetLimit(runtime.NumCPU())

	for system, attrs := range attrsPerSystem {
		g.Go(func() error {
			res, err := o.EvalAttrs(gctx, system, attrs)
			if err != nil {
				return err
			}
			mu.Lock()
			results[system] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// OutPathsOf evaluates the given attribute names and returns the
// attr -> first-output-path table used by the change-set differ.
// Broken and nonexistent attributes are omitted.
func (o *Options) OutPathsOf(ctx context.Context, system models.System, attrs []string) (map[string]string, error) {
	// Passthru tests never participate in change detection.
	evaluated, err := o.evalAttrs(ctx, system, attrs, false)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(evaluated))
	for _, a := range evaluated {
		if !a.Broken && a.OutPath() != "" {
			out[a.Name] = a.OutPath()
		}
	}
	return out, nil
}

// ListAttrNames enumerates the top-level package attribute names of the
// worktree for one system, the universe the change-set differ shards.
func (o *Options) ListAttrNames(ctx context.Context, system models.System) ([]string, error) {
	configPath, err := o.WriteConfigFile()
	if err != nil {
		return nil, err
	}
	expr := fmt.Sprintf(
		`builtins.attrNames (import %s { system = %q; config = import %s; overlays = [ ]; })`,
		o.WorktreeDir, system, configPath)
	args := append([]string{"nix"}, experimentalFeatures...)
	args = append(args, "--system", system, "eval", "--json", "--impure", "--expr", expr)
	res, err := runner.Run(ctx, runner.Command{Args: args})
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, &EvalError{System: system, Reason: res.Stderr}
	}
	var names []string
	if err := json.Unmarshal([]byte(res.Stdout), &names); err != nil {
		return nil, &EvalError{System: system, Reason: fmt.Sprintf("bad attrNames output: %v", err)}
	}
	sort.Strings(names)
	return names, nil
}

// LogPath is where the build log for one attribute lands.
func LogPath(cacheDir, attr string, system models.System) string {
	return filepath.Join(cacheDir, "logs", fmt.Sprintf("%s-%s.log", attr, system))
}
