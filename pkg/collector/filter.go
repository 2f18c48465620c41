package collector

import (
	"regexp"
	"strings"

	"github.com/sipeed/msgcollector/pkg/domain"
)

// Filter decides whether a candidate message counts toward the limit.
// A returned error rejects the candidate; collection continues.
// Deliveries are serialized, so a filter never runs concurrently with
// itself. It may call back into its collector, e.g. Collected or Stop.
type Filter func(msg domain.Message) (bool, error)

// MatchAll admits every candidate.
func MatchAll() Filter {
	return func(domain.Message) (bool, error) { return true, nil }
}

// Predicate lifts an infallible predicate into a Filter.
func Predicate(fn func(domain.Message) bool) Filter {
	return func(msg domain.Message) (bool, error) { return fn(msg), nil }
}

// And admits a candidate only if every filter does. Evaluation stops at the
// first rejection or error.
func And(filters ...Filter) Filter {
	return func(msg domain.Message) (bool, error) {
		for _, f := range filters {
			ok, err := f(msg)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
}

// Or admits a candidate if any filter does. Evaluation stops at the first
// match or error.
func Or(filters ...Filter) Filter {
	return func(msg domain.Message) (bool, error) {
		for _, f := range filters {
			ok, err := f(msg)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
}

// Not inverts a filter. Errors pass through unchanged.
func Not(f Filter) Filter {
	return func(msg domain.Message) (bool, error) {
		ok, err := f(msg)
		if err != nil {
			return false, err
		}
		return !ok, nil
	}
}

// FromAuthors admits messages written by one of ids.
func FromAuthors(ids ...string) Filter {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return Predicate(func(msg domain.Message) bool {
		_, ok := set[msg.AuthorID]
		return ok
	})
}

// ContentContains admits messages containing substr.
func ContentContains(substr string, ignoreCase bool) Filter {
	if ignoreCase {
		substr = strings.ToLower(substr)
	}
	return Predicate(func(msg domain.Message) bool {
		content := msg.Content
		if ignoreCase {
			content = strings.ToLower(content)
		}
		return strings.Contains(content, substr)
	})
}

// ContentPrefix admits messages starting with prefix, ignoring leading whitespace.
func ContentPrefix(prefix string, ignoreCase bool) Filter {
	if ignoreCase {
		prefix = strings.ToLower(prefix)
	}
	return Predicate(func(msg domain.Message) bool {
		content := strings.TrimSpace(msg.Content)
		if ignoreCase {
			content = strings.ToLower(content)
		}
		return strings.HasPrefix(content, prefix)
	})
}

// ContentMatches admits messages whose content matches re.
func ContentMatches(re *regexp.Regexp) Filter {
	return Predicate(func(msg domain.Message) bool {
		return re.MatchString(msg.Content)
	})
}
