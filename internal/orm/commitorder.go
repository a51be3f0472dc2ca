package orm

import (
	"github.com/mesh-intelligence/tally/pkg/types"
)

// dependencies returns the tracked entries that en's owning to-one
// associations point at. When strict, an association to an untracked entity
// or to one scheduled for removal is an *types.UnresolvedDependencyError;
// otherwise it is skipped.
func (s *Session) dependencies(en *entry, strict bool) ([]*entry, error) {
	var deps []*entry
	for i := range en.spec.Associations {
		a := &en.spec.Associations[i]
		if !a.Owning() {
			continue
		}
		target := a.Get(en.entity)
		if target == nil {
			continue
		}
		dep, ok := s.uow.entryOf(target)
		if !ok {
			if !strict {
				continue
			}
			return nil, &types.UnresolvedDependencyError{
				Entity:      en.spec.Name,
				Association: a.Name,
				Target:      a.Target,
			}
		}
		if strict && dep.state == stateRemoved {
			return nil, &types.UnresolvedDependencyError{
				Entity:      en.spec.Name,
				Association: a.Name,
				Target:      a.Target,
				Removed:     true,
			}
		}
		deps = append(deps, dep)
	}
	return deps, nil
}

// commitOrder sorts entries so that each one follows the entries it depends
// on. Dependencies outside entries are already stored and impose no order.
// Ties keep registration order.
func (s *Session) commitOrder(entries []*entry) ([]*entry, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	in := make(map[*entry]bool, len(entries))
	for _, en := range entries {
		in[en] = true
	}
	mark := make(map[*entry]int, len(entries))
	out := make([]*entry, 0, len(entries))
	var stack []*entry

	var visit func(en *entry) error
	visit = func(en *entry) error {
		switch mark[en] {
		case done:
			return nil
		case visiting:
			return cycleError(stack, en)
		}
		mark[en] = visiting
		stack = append(stack, en)

		deps, err := s.dependencies(en, en.state != stateRemoved)
		if err != nil {
			return err
		}
		for _, dep := range deps {
			if !in[dep] {
				continue
			}
			if err := visit(dep); err != nil {
				return err
			}
		}

		stack = stack[:len(stack)-1]
		mark[en] = done
		out = append(out, en)
		return nil
	}

	for _, en := range entries {
		if err := visit(en); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func cycleError(stack []*entry, closing *entry) error {
	start := 0
	for i, en := range stack {
		if en == closing {
			start = i
			break
		}
	}
	path := make([]string, 0, len(stack)-start+1)
	for _, en := range stack[start:] {
		path = append(path, describe(en))
	}
	path = append(path, describe(closing))
	return &types.IdentityDependencyCycleError{Path: path}
}

func describe(en *entry) string {
	if en.hasKey {
		return en.key.String()
	}
	return en.spec.Name
}
