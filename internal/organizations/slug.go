package organizations

import (
	"strconv"
	"strings"

	"github.com/gosimple/slug"
)

const maxSlugLen = 240

// BaseSlug derives the slug stem for name.
func BaseSlug(name string) string {
	s := slug.Make(name)
	if len(s) > maxSlugLen {
		s = strings.TrimRight(s[:maxSlugLen], "-")
	}
	if s == "" {
		return "organization"
	}
	return s
}

// NextSlug returns base, or the first of base-1, base-2, ... not in taken.
func NextSlug(base string, taken []string) string {
	used := make(map[string]bool, len(taken))
	for _, t := range taken {
		used[t] = true
	}
	if !used[base] {
		return base
	}
	for n := 1; ; n++ {
		candidate := base + "-" + strconv.Itoa(n)
		if !used[candidate] {
			return candidate
		}
	}
}
