package analytics

import "sync"

// Globals keeps super properties for vendors that have no registry of their own.
type Globals struct {
	mu    sync.RWMutex
	props Properties
}

func NewGlobals() *Globals {
	return &Globals{props: Properties{}}
}

func (g *Globals) Register(props Properties, overwrite bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for k, v := range props {
		if _, exists := g.props[k]; exists && !overwrite {
			continue
		}
		g.props[k] = v
	}
}

// Merge returns the registered properties overlaid with props.
func (g *Globals) Merge(props Properties) Properties {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if len(g.props) == 0 {
		return props
	}
	return merge(g.props, props)
}

func (g *Globals) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.props = Properties{}
}
