package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Stdin is the input name that stands for standard input.
const Stdin = "-"

// ExpandInputs expands file paths and glob patterns into a list of inputs.
// Inputs keep the order they were given in; the matches of a single glob are
// sorted. Duplicates are dropped. Stdin is passed through unchanged and an
// empty list means stdin only.
func ExpandInputs(patterns []string) ([]string, error) {
	if len(patterns) == 0 {
		return []string{Stdin}, nil
	}

	inputs := make([]string, 0, len(patterns))
	seen := make(map[string]struct{})
	add := func(name string) {
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		inputs = append(inputs, name)
	}

	for _, pattern := range patterns {
		switch {
		case pattern == Stdin:
			add(Stdin)
		case hasGlobMeta(pattern):
			matches, err := filepath.Glob(pattern)
			if err != nil {
				return nil, err
			}
			if len(matches) == 0 {
				return nil, fmt.Errorf("no matches for pattern %q", pattern)
			}
			sort.Strings(matches)
			for _, match := range matches {
				add(match)
			}
		default:
			if _, err := os.Stat(pattern); err != nil {
				return nil, err
			}
			add(pattern)
		}
	}

	return inputs, nil
}

func hasGlobMeta(s string) bool {
	return strings.ContainsAny(s, "*?[")
}
