package runtime

import (
	"fmt"
	"sort"
)

// Handler runs one job type. Run reports through the Context; a returned
// error is treated as a failure the handler did not record itself.
type Handler interface {
	Type() string
	Run(ctx *Context) error
}

// Registry maps job types to handlers. It is fixed at construction, so the
// worker reads it without locking.
type Registry struct {
	handlers map[string]Handler
	types    []string
}

func NewRegistry(handlers ...Handler) (*Registry, error) {
	r := &Registry{handlers: make(map[string]Handler, len(handlers))}
	for _, h := range handlers {
		if h == nil {
			return nil, fmt.Errorf("nil handler")
		}
		t := h.Type()
		if t == "" {
			return nil, fmt.Errorf("handler %T has an empty Type()", h)
		}
		if _, dup := r.handlers[t]; dup {
			return nil, fmt.Errorf("handler already registered for job_type=%s", t)
		}
		r.handlers[t] = h
		r.types = append(r.types, t)
	}
	sort.Strings(r.types)
	return r, nil
}

func (r *Registry) Get(jobType string) (Handler, bool) {
	h, ok := r.handlers[jobType]
	return h, ok
}

// Types lists the registered job types in sorted order.
func (r *Registry) Types() []string {
	return append([]string(nil), r.types...)
}
