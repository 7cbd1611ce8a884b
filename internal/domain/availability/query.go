package availability

import (
	"regexp"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/domainshop/internal/domain/pricing"
)

var labelRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// Query is a parsed search: one label and the ordered TLDs to try.
type Query struct {
	Name string
	TLDs []string
}

// ParseQuery normalizes raw customer input. A TLD typed by the customer
// ("mysite.co.uk") is moved to the front of the candidate list instead of
// being checked twice. When tlds is empty, defaults are used.
func ParseQuery(raw string, tlds, defaults []string) (Query, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "www.")
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSuffix(s, ".")

	name, typed := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		name, typed = s[:i], s[i:]
	}
	if !labelRe.MatchString(name) {
		return Query{}, errors.Wrapf(ErrInvalidQuery, "%q is not a valid domain label", name)
	}

	if len(tlds) == 0 {
		tlds = defaults
	}
	candidates := make([]string, 0, len(tlds)+1)
	if typed != "" {
		candidates = append(candidates, typed)
	}
	candidates = append(candidates, tlds...)

	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, tld := range candidates {
		tld = pricing.NormalizeTLD(tld)
		if tld == "" || tld == "." {
			continue
		}
		if _, ok := seen[tld]; ok {
			continue
		}
		seen[tld] = struct{}{}
		out = append(out, tld)
	}
	if len(out) == 0 {
		return Query{}, errors.Wrap(ErrInvalidQuery, "no TLDs to search")
	}

	return Query{Name: name, TLDs: out}, nil
}
