package task

// Index is a read-only lookup of all known tasks, used to compute readiness
// and dependency closures without requiring a Store round-trip per task.
type Index map[string]*Task

// NewIndex builds an Index from a task slice.
func NewIndex(tasks []Task) Index {
	idx := make(Index, len(tasks))
	for i := range tasks {
		idx[tasks[i].ID] = &tasks[i]
	}
	return idx
}

// Ready reports whether t is ready: open, with every direct dependency
// closed, and no unapproved gate transitively in its dependency or parent
// closure (I4).
func Ready(idx Index, t *Task) bool {
	if t.Status != StatusOpen {
		return false
	}
	for _, dep := range t.DependsOn {
		d, ok := idx[dep]
		if !ok || d.Status != StatusClosed {
			return false
		}
	}
	return !blockedByGate(idx, t, make(map[string]bool))
}

// blockedByGate walks the dependency and parent closure looking for a gate
// task that has not been closed (approved).
func blockedByGate(idx Index, t *Task, visited map[string]bool) bool {
	if visited[t.ID] {
		return false // cycle guard; cycles are an invariant violation elsewhere
	}
	visited[t.ID] = true

	for _, depID := range t.DependsOn {
		dep, ok := idx[depID]
		if !ok {
			continue
		}
		if dep.Type == TypeGate && dep.Status != StatusClosed {
			return true
		}
		if blockedByGate(idx, dep, visited) {
			return true
		}
	}
	if t.Parent != "" {
		if parent, ok := idx[t.Parent]; ok {
			if parent.Type == TypeGate && parent.Status != StatusClosed {
				return true
			}
			if blockedByGate(idx, parent, visited) {
				return true
			}
		}
	}
	return false
}

// HasCycle reports whether following depends_on from t ever revisits a node,
// i.e. whether the dependency graph rooted at t contains a cycle (invariant b).
func HasCycle(idx Index, start string) bool {
	visiting := make(map[string]bool)
	visited := make(map[string]bool)
	var walk func(id string) bool
	walk = func(id string) bool {
		if visiting[id] {
			return true
		}
		if visited[id] {
			return false
		}
		visiting[id] = true
		t, ok := idx[id]
		if ok {
			for _, dep := range t.DependsOn {
				if walk(dep) {
					return true
				}
			}
		}
		visiting[id] = false
		visited[id] = true
		return false
	}
	return walk(start)
}

// Matches reports whether t satisfies the given filters.
func Matches(t *Task, f Filters) bool {
	if f.ID != "" && t.ID != f.ID {
		return false
	}
	if f.Label != "" && !t.HasLabel(f.Label) {
		return false
	}
	if f.Parent != "" && !isDescendant(t, f.Parent) {
		return false
	}
	return true
}

func isDescendant(t *Task, parent string) bool {
	return t.ID == parent || t.Parent == parent
}
