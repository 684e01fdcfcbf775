package rbac

import (
	"sort"
	"strings"
)

// Role names known to the host platform. Operators may allow any role name;
// these only back defaults.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
	RoleBot   = "bot"
)

// RoleSet is an unordered set of role names. Names are compared after
// trimming; case is preserved because the host platform treats it as significant.
type RoleSet map[string]struct{}

func NewRoleSet(roles ...string) RoleSet {
	s := make(RoleSet, len(roles))
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		s[r] = struct{}{}
	}
	return s
}

// ParseRoleList parses a comma or whitespace separated settings value.
func ParseRoleList(v string) RoleSet {
	fields := strings.FieldsFunc(v, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t' || r == '\n'
	})
	return NewRoleSet(fields...)
}

func (s RoleSet) Has(role string) bool {
	_, ok := s[strings.TrimSpace(role)]
	return ok
}

// Intersects reports whether the two sets share at least one role.
func (s RoleSet) Intersects(other RoleSet) bool {
	small, large := s, other
	if len(small) > len(large) {
		small, large = large, small
	}
	for r := range small {
		if _, ok := large[r]; ok {
			return true
		}
	}
	return false
}

// Slice returns the roles sorted, for logs and audit scope.
func (s RoleSet) Slice() []string {
	out := make([]string, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

func (s RoleSet) String() string { return strings.Join(s.Slice(), ",") }
