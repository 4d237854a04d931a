package skufilter

import (
	"fmt"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheSize = 1000

// Stage names the evaluation step that produced a decision
type Stage string

const (
	StageFormat       Stage = "format"
	StageDenyList     Stage = "deny_list"
	StageDenyPattern  Stage = "deny_pattern"
	StageAllowList    Stage = "allow_list"
	StageAllowPattern Stage = "allow_pattern"
	StageApproved     Stage = "approved"
)

// Decision is the outcome of evaluating one SKU
type Decision struct {
	Allowed bool
	Reason  string
	Stage   Stage
}

// Options configures a filter. Lists are case-insensitive; patterns are
// compiled once at construction.
type Options struct {
	MinLen        int
	MaxLen        int
	AllowList     []string
	DenyList      []string
	AllowPatterns []string
	DenyPatterns  []string
	CacheSize     int
}

// Filter is a stateless predicate over SKU strings with an LRU memo over raw
// inputs
type Filter struct {
	minLen, maxLen int
	allowList      map[string]struct{}
	denyList       map[string]struct{}
	allowPatterns  []*regexp.Regexp
	denyPatterns   []*regexp.Regexp
	cache          *lru.Cache[string, Decision]
}

// New compiles the options into a filter
func New(opts Options) (*Filter, error) {
	f := &Filter{
		minLen:    opts.MinLen,
		maxLen:    opts.MaxLen,
		allowList: toSet(opts.AllowList),
		denyList:  toSet(opts.DenyList),
	}
	if f.minLen <= 0 {
		f.minLen = 1
	}
	if f.maxLen <= 0 {
		f.maxLen = 64
	}

	for _, p := range opts.AllowPatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("invalid allow pattern %q: %w", p, err)
		}
		f.allowPatterns = append(f.allowPatterns, re)
	}
	for _, p := range opts.DenyPatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("invalid deny pattern %q: %w", p, err)
		}
		f.denyPatterns = append(f.denyPatterns, re)
	}

	size := opts.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, Decision](size)
	if err != nil {
		return nil, err
	}
	f.cache = cache
	return f, nil
}

// ShouldProcess evaluates a SKU. Order: format, deny list, deny patterns,
// allow list, allow patterns, approved. Short-circuits at the first match.
func (f *Filter) ShouldProcess(sku string) Decision {
	if d, ok := f.cache.Get(sku); ok {
		return d
	}
	d := f.evaluate(sku)
	f.cache.Add(sku, d)
	return d
}

func (f *Filter) evaluate(sku string) Decision {
	trimmed := strings.TrimSpace(sku)
	if len(trimmed) < f.minLen || len(trimmed) > f.maxLen {
		return Decision{
			Reason: fmt.Sprintf("length %d outside [%d,%d]", len(trimmed), f.minLen, f.maxLen),
			Stage:  StageFormat,
		}
	}

	lower := strings.ToLower(trimmed)
	if _, denied := f.denyList[lower]; denied {
		return Decision{Reason: "sku on deny list", Stage: StageDenyList}
	}
	for _, re := range f.denyPatterns {
		if re.MatchString(trimmed) {
			return Decision{
				Reason: fmt.Sprintf("sku matches deny pattern %s", re.String()),
				Stage:  StageDenyPattern,
			}
		}
	}

	if len(f.allowList) > 0 {
		if _, allowed := f.allowList[lower]; allowed {
			return Decision{Allowed: true, Reason: "sku on allow list", Stage: StageAllowList}
		}
		if len(f.allowPatterns) == 0 {
			return Decision{Reason: "sku not on allow list", Stage: StageAllowList}
		}
	}
	if len(f.allowPatterns) > 0 {
		for _, re := range f.allowPatterns {
			if re.MatchString(trimmed) {
				return Decision{
					Allowed: true,
					Reason:  fmt.Sprintf("sku matches allow pattern %s", re.String()),
					Stage:   StageAllowPattern,
				}
			}
		}
		return Decision{Reason: "sku matches no allow pattern", Stage: StageAllowPattern}
	}

	return Decision{Allowed: true, Reason: "approved", Stage: StageApproved}
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[strings.ToLower(strings.TrimSpace(it))] = struct{}{}
	}
	return set
}

// AllowAll admits every well-formed SKU
func AllowAll() (*Filter, error) {
	return New(Options{})
}

// ProductsOnly excludes synthetic prefixes and reserved singletons
func ProductsOnly() (*Filter, error) {
	return New(Options{
		DenyPatterns: []string{
			`^test_`,
			`^temp_`,
			`^demo_`,
			`^sample_`,
		},
		DenyList: []string{"default", "placeholder", "unknown"},
	})
}

// SpecificPrefixes admits only SKUs starting with one of the given prefixes
func SpecificPrefixes(prefixes ...string) (*Filter, error) {
	patterns := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		patterns = append(patterns, "^"+regexp.QuoteMeta(p))
	}
	return New(Options{AllowPatterns: patterns})
}
