package migrator

import (
	"cmp"
	"slices"
)

// Resolve computes the ordered plan for one run.
//
// Up keeps changes whose name is not applied, ascending by version. Down keeps
// changes whose name is applied, descending by version. Equal versions are
// ordered by full name. With a target, the plan ends at the first change with
// that version; a target that matches nothing leaves the plan untouched.
func Resolve(changes []Change, applied map[string]struct{}, dir Direction, target string) []Change {
	plan := make([]Change, 0, len(changes))
	for _, c := range changes {
		if c.Direction != dir {
			continue
		}
		_, ok := applied[c.Name]
		if (dir == Up) == ok {
			continue
		}
		plan = append(plan, c)
	}

	slices.SortFunc(plan, func(a, b Change) int {
		if n := cmp.Compare(a.Version, b.Version); n != 0 {
			return n
		}
		return cmp.Compare(a.Name, b.Name)
	})
	if dir == Down {
		slices.Reverse(plan)
	}

	if target != "" {
		if idx := slices.IndexFunc(plan, func(c Change) bool { return c.Version == target }); idx >= 0 {
			plan = plan[:idx+1]
		}
	}
	return plan
}

// AppliedNames indexes ledger records by name.
func AppliedNames(records []AppliedRecord) map[string]struct{} {
	m := make(map[string]struct{}, len(records))
	for _, r := range records {
		m[r.Name] = struct{}{}
	}
	return m
}
