package data

import (
	"github.com/redpesk-core/go-binder/status"
)

// Convert produces a Value of the target type from v, reusing a cached
// result when available and permitted, following these identity,
// caching and invalidation rules:
//
//   - converting a value to its own type returns an addref, no copy;
//   - non-volatile results are cached on v, keyed by target type, and
//     the cache is consulted before walking the graph;
//   - volatile values are never read from or written to the cache;
//   - the path through the converter graph is the shortest one
//     (breadth-first), ties broken by edge insertion order.
func (r *Registry) Convert(v *Value, target *Type) (*Value, error) {
	if v == nil || target == nil {
		return nil, status.New(status.Invalid, "data.Convert")
	}
	if v.typ.id == target.id {
		return v.AddRef(), nil
	}

	if !v.volatile {
		v.cacheMu.Lock()
		if v.cache != nil {
			if cv, ok := v.cache[target.id]; ok {
				v.cacheMu.Unlock()
				return cv.AddRef(), nil
			}
		}
		v.cacheMu.Unlock()
	}

	path, err := r.shortestPath(v.typ.id, target.id)
	if err != nil {
		return nil, err
	}

	cur := v.AddRef()
	for _, e := range path {
		next, err := e.conv(cur)
		cur.Unref()
		if err != nil {
			return nil, err
		}
		cur = next
	}

	if !v.volatile {
		v.cacheMu.Lock()
		if v.cache == nil {
			v.cache = make(map[uint16]*Value)
		}
		if old, ok := v.cache[target.id]; ok {
			old.Unref()
		}
		v.cache[target.id] = cur.AddRef()
		v.cacheMu.Unlock()
	}

	return cur, nil
}

// shortestPath runs a breadth-first search over the converter graph from
// fromID to toID, returning the ordered list of edges to walk. Ties in
// path length are broken by each node's edge insertion order, since
// adjacency lists are appended to in AddConverter call order.
func (r *Registry) shortestPath(fromID, toID uint16) ([]edge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type frame struct {
		id   uint16
		path []edge
	}

	visited := map[uint16]bool{fromID: true}
	queue := []frame{{id: fromID, path: nil}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, e := range r.edges[cur.id] {
			if e.to.id == toID {
				p := make([]edge, len(cur.path)+1)
				copy(p, cur.path)
				p[len(cur.path)] = e
				return p, nil
			}
			if visited[e.to.id] {
				continue
			}
			visited[e.to.id] = true
			p := make([]edge, len(cur.path)+1)
			copy(p, cur.path)
			p[len(cur.path)] = e
			queue = append(queue, frame{id: e.to.id, path: p})
		}
	}

	return nil, status.New(status.NotSupported, "data.Convert: no path")
}
