package uid

import (
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// New returns a process-unique identifier with the given prefix,
// e.g. New("var") -> "var-8f14e45f-...". Uniqueness is probabilistic,
// not cryptographic.
func New(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return uuid.NewString()
	}
	return prefix + "-" + uuid.NewString()
}

// ModuleIDGenerator derives stable, human-readable module ids from
// names and resolves collisions. A generated id has the shape
// "<slug>-<hash>" (or "<slug>-<hash>-N" on collision), so re-proposing
// a module with the same name keeps a recognizable key.
type ModuleIDGenerator struct {
	used    map[string]struct{}
	counter map[string]int
}

// NewModuleIDGenerator creates a generator with optional pre-reserved ids.
func NewModuleIDGenerator(existing ...string) *ModuleIDGenerator {
	g := &ModuleIDGenerator{
		used:    make(map[string]struct{}, len(existing)+8),
		counter: make(map[string]int, len(existing)+8),
	}
	for _, id := range existing {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		g.used[id] = struct{}{}
	}
	return g
}

// Generate returns a unique id for name.
func (g *ModuleIDGenerator) Generate(name string) string {
	if g == nil {
		g = NewModuleIDGenerator()
	}
	base := baseIDFromName(name)
	if _, ok := g.used[base]; !ok {
		g.used[base] = struct{}{}
		g.counter[base] = 1
		return base
	}
	n := g.counter[base]
	if n < 1 {
		n = 1
	}
	for {
		n++
		candidate := fmt.Sprintf("%s-%d", base, n)
		if _, exists := g.used[candidate]; exists {
			continue
		}
		g.used[candidate] = struct{}{}
		g.counter[base] = n
		return candidate
	}
}

// Reserve marks an externally supplied id as taken.
func (g *ModuleIDGenerator) Reserve(id string) bool {
	if g == nil {
		return false
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	if _, exists := g.used[id]; exists {
		return false
	}
	g.used[id] = struct{}{}
	return true
}

func baseIDFromName(name string) string {
	name = strings.TrimSpace(name)
	slug := slugifyASCII(name)
	if slug == "" {
		slug = "module"
	}
	return fmt.Sprintf("%s-%s", slug, shortHashHex(name))
}

func shortHashHex(s string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	sum := h.Sum64()
	return fmt.Sprintf("%08x", uint32(sum&0xffffffff))
}

func slugifyASCII(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	var b strings.Builder
	lastDash := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	out := strings.Trim(b.String(), "-")
	return out
}
