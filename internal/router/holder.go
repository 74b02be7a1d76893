package router

import (
	"context"
	"sync/atomic"

	"github.com/af-corp/persona-gateway/internal/router/adapters"
	"github.com/af-corp/persona-gateway/internal/types"
)

// Holder publishes the current Router. Reloads swap the whole Router so a
// request always sees one consistent alias and provider set.
type Holder struct {
	current atomic.Pointer[Router]
}

// NewHolder returns a Holder serving r.
func NewHolder(r *Router) *Holder {
	h := &Holder{}
	h.current.Store(r)
	return h
}

// Load returns the current Router.
func (h *Holder) Load() *Router {
	return h.current.Load()
}

// Store replaces the current Router. In-flight calls keep the one they started with.
func (h *Holder) Store(r *Router) {
	h.current.Store(r)
}

func (h *Holder) Chat(ctx context.Context, p ChatParams) (*types.ChatResponse, error) {
	return h.Load().Chat(ctx, p)
}

func (h *Holder) Stream(ctx context.Context, p ChatParams) (adapters.TextStream, error) {
	return h.Load().Stream(ctx, p)
}

func (h *Holder) Aliases() []Alias {
	return h.Load().Aliases()
}
