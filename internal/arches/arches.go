// Package arches resolves architecture wildcards against a suite's
// architecture set and selects the affinity architecture used to host
// arch-independent build output. Grounded on
// original_source/debile/master/arches.py.
package arches

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/debile/internal/execwrap"
	"github.com/coreos/debile/internal/model"
)

// Oracle resolves a wildcard match that none of the fast in-process rules
// cover. The default implementation shells out to dpkg-architecture, the
// same tool the original falls back to; tests use a StaticOracle instead so
// the resolver's unit tests never spawn a process.
type Oracle interface {
	Matches(arch, wildcard string) (bool, error)
}

// Matches reports whether arch satisfies wildcard, per spec.md §4.1:
//
//   - "all" and "source" are pseudo-arches that match only themselves;
//   - "any" matches every real architecture;
//   - "linux-any" matches arches whose hyphen-split tokens include "linux"
//     or that contain no hyphen at all;
//   - "<os>-any" matches arches whose hyphen-split tokens include <os>;
//   - when neither arch nor wildcard contains a hyphen, there is no match;
//   - anything else falls back to oracle.
func Matches(oracle Oracle, arch, wildcard string) (bool, error) {
	if arch == wildcard {
		return true, nil
	}

	if arch == model.ArchAll || arch == model.ArchSource {
		// Pseudo-arches never match a wildcard or alias, only themselves.
		return false, nil
	}

	if wildcard == "any" {
		return true, nil
	}

	if wildcard == "linux-any" {
		tokens := strings.Split(arch, "-")
		return !strings.Contains(arch, "-") || containsToken(tokens, "linux"), nil
	}

	if strings.HasSuffix(wildcard, "-any") {
		osName, _, _ := strings.Cut(wildcard, "-")
		return containsToken(strings.Split(arch, "-"), osName), nil
	}

	if !strings.Contains(arch, "-") && !strings.Contains(wildcard, "-") {
		return false, nil
	}

	if oracle == nil {
		return false, fmt.Errorf("arches: no oracle configured to resolve %q against %q", arch, wildcard)
	}
	return oracle.Matches(arch, wildcard)
}

func containsToken(tokens []string, want string) bool {
	for _, t := range tokens {
		if t == want {
			return true
		}
	}
	return false
}

// SourceArches returns, for every suite architecture, the ones that match at
// least one token of dscArches (spec.md §4.1 source_arches).
func SourceArches(oracle Oracle, dscArches []string, suiteArches []*model.Architecture) ([]*model.Architecture, error) {
	var out []*model.Architecture
	for _, arch := range suiteArches {
		for _, alias := range dscArches {
			ok, err := Matches(oracle, arch.Name, alias)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, arch)
				break
			}
		}
	}
	return out, nil
}

// PreferredAffinity walks preference in order, returning the first arch
// that both appears in candidates and matches at least one token of
// validAffinityTokens (spec.md §4.1 preferred_affinity). It errors if no
// preference satisfies both conditions.
func PreferredAffinity(oracle Oracle, preference []string, validAffinityTokens []string, candidates []*model.Architecture) (*model.Architecture, error) {
	for _, pref := range preference {
		var candidate *model.Architecture
		for _, c := range candidates {
			if c.Name == pref {
				candidate = c
				break
			}
		}
		if candidate == nil {
			continue
		}
		for _, alias := range validAffinityTokens {
			ok, err := Matches(oracle, candidate.Name, alias)
			if err != nil {
				return nil, err
			}
			if ok {
				return candidate, nil
			}
		}
	}
	return nil, fmt.Errorf(
		"arches: no valid affinity - preferences: %q; valid: %q; arches: %q",
		strings.Join(preference, ", "),
		strings.Join(validAffinityTokens, ", "),
		archNames(candidates),
	)
}

func archNames(arches []*model.Architecture) string {
	names := make([]string, len(arches))
	for i, a := range arches {
		names[i] = a.Name
	}
	return strings.Join(names, ", ")
}

// StaticOracle is a map-backed Oracle for tests: StaticOracle{"amd64":
// {"any-amd64": true}} lets Matches("amd64", "any-amd64") return true.
type StaticOracle map[string]map[string]bool

func (s StaticOracle) Matches(arch, wildcard string) (bool, error) {
	if byWildcard, ok := s[arch]; ok {
		if v, ok := byWildcard[wildcard]; ok {
			return v, nil
		}
	}
	return false, nil
}

// DpkgArchitectureOracle shells out to dpkg-architecture -a<arch> -i<alias>,
// the original's documented "disaster for perf" fallback, kept as a last
// resort so the common wildcard forms above never need it.
type DpkgArchitectureOracle struct {
	// Run executes dpkg-architecture with the given args and returns its
	// exit status. Defaults to execwrap's real Command in production; set
	// to a stub in tests that need the fallback path exercised.
	Run func(args ...string) (exitCode int, err error)
}

// NewDpkgArchitectureOracle wires a DpkgArchitectureOracle to the real
// dpkg-architecture binary via execwrap.OS.
func NewDpkgArchitectureOracle() DpkgArchitectureOracle {
	runner := execwrap.OS{}
	return DpkgArchitectureOracle{
		Run: func(args ...string) (int, error) {
			_, _, code, err := runner.Run(context.Background(), "dpkg-architecture", args...)
			return code, err
		},
	}
}

func (d DpkgArchitectureOracle) Matches(arch, alias string) (bool, error) {
	if d.Run == nil {
		return false, fmt.Errorf("arches: DpkgArchitectureOracle has no Run configured")
	}
	code, err := d.Run("-a"+arch, "-i"+alias)
	if err != nil {
		return false, fmt.Errorf("arches: dpkg-architecture: %w", err)
	}
	return code == 0, nil
}
