// Package component models the service topology as a tree of components.
package component

import (
	"github.com/bissquit/status-aggregator/internal/domain"
)

// Kind selects how a component derives its status from its subcomponents.
type Kind int

// Component kinds.
const (
	// KindTree reports the most severe status among itself and its subcomponents.
	KindTree Kind = iota
	// KindActiveActive is Down only when every subcomponent is Down,
	// and Degraded when any subcomponent is not Up.
	KindActiveActive
	// KindActivePassive treats the first subcomponent as primary. A failed primary
	// with a healthy secondary is Degraded; all subcomponents Down is Down.
	KindActivePassive
)

// Component is a node of the service topology.
// Status holds the status applied directly to this node. Derived status is
// computed on read by EffectiveStatus and never stored.
type Component struct {
	Name        string
	Description string
	Kind        Kind
	Status      domain.ComponentStatus

	// DisplaySubComponents controls whether subcomponents are shown publicly.
	DisplaySubComponents bool
	SubComponents        []*Component

	path   string
	parent *Component
}

// New creates a component and links the given subcomponents under it.
func New(name, description string, kind Kind, display bool, subComponents ...*Component) *Component {
	c := &Component{
		Name:                 name,
		Description:          description,
		Kind:                 kind,
		Status:               domain.ComponentStatusUp,
		DisplaySubComponents: display,
		SubComponents:        subComponents,
	}
	c.setParent(nil)
	return c
}

// Leaf creates a component without subcomponents.
func Leaf(name, description string) *Component {
	return New(name, description, KindTree, false)
}

func (c *Component) setParent(parent *Component) {
	c.parent = parent
	if parent == nil {
		c.path = c.Name
	} else {
		c.path = domain.JoinPath(parent.path, c.Name)
	}
	for _, sub := range c.SubComponents {
		sub.setParent(c)
	}
}

// Path returns the slash-joined names from the root to this component.
func (c *Component) Path() string { return c.path }

// Parent returns the parent component, nil for the root.
func (c *Component) Parent() *Component { return c.parent }

// IsVisible reports whether every ancestor displays its subcomponents.
func (c *Component) IsVisible() bool {
	for p := c.parent; p != nil; p = p.parent {
		if !p.DisplaySubComponents {
			return false
		}
	}
	return true
}

// VisibleSubComponents returns the subcomponents shown publicly.
func (c *Component) VisibleSubComponents() []*Component {
	if !c.DisplaySubComponents {
		return nil
	}
	return c.SubComponents
}

// EffectiveStatus combines the applied status with the subcomponent statuses
// according to the component kind.
func (c *Component) EffectiveStatus() domain.ComponentStatus {
	if len(c.SubComponents) == 0 {
		return c.Status
	}

	var derived domain.ComponentStatus
	switch c.Kind {
	case KindActiveActive:
		derived = c.activeActiveStatus()
	case KindActivePassive:
		derived = c.activePassiveStatus()
	default:
		derived = domain.ComponentStatusUp
		for _, sub := range c.SubComponents {
			derived = domain.MaxStatus(derived, sub.EffectiveStatus())
		}
	}
	return domain.MaxStatus(c.Status, derived)
}

func (c *Component) activeActiveStatus() domain.ComponentStatus {
	allDown := true
	anyNotUp := false
	for _, sub := range c.SubComponents {
		status := sub.EffectiveStatus()
		if status != domain.ComponentStatusDown {
			allDown = false
		}
		if status != domain.ComponentStatusUp {
			anyNotUp = true
		}
	}
	switch {
	case allDown:
		return domain.ComponentStatusDown
	case anyNotUp:
		return domain.ComponentStatusDegraded
	default:
		return domain.ComponentStatusUp
	}
}

func (c *Component) activePassiveStatus() domain.ComponentStatus {
	primary := c.SubComponents[0].EffectiveStatus()
	if primary == domain.ComponentStatusUp {
		return domain.ComponentStatusUp
	}
	for _, secondary := range c.SubComponents[1:] {
		if secondary.EffectiveStatus() != domain.ComponentStatusDown {
			return domain.ComponentStatusDegraded
		}
	}
	if primary == domain.ComponentStatusDown {
		return domain.ComponentStatusDown
	}
	return domain.ComponentStatusDegraded
}

// GetByPath resolves a full path, starting at this component's name.
// Returns nil if no component has that path.
func (c *Component) GetByPath(path string) *Component {
	segments := domain.SplitPath(path)
	if len(segments) == 0 || segments[0] != c.Name {
		return nil
	}

	current := c
	for _, name := range segments[1:] {
		var next *Component
		for _, sub := range current.SubComponents {
			if sub.Name == name {
				next = sub
				break
			}
		}
		if next == nil {
			return nil
		}
		current = next
	}
	return current
}

// DeepestVisibleAncestor returns the component itself if visible,
// otherwise its closest visible ancestor.
func (c *Component) DeepestVisibleAncestor() *Component {
	current := c
	for !current.IsVisible() {
		current = current.parent
	}
	return current
}

// Walk visits the component and its descendants depth-first.
// Returning false from fn skips the descendants of that component.
func (c *Component) Walk(fn func(*Component) bool) {
	if !fn(c) {
		return
	}
	for _, sub := range c.SubComponents {
		sub.Walk(fn)
	}
}

// Reset sets the applied status of every component back to Up.
func (c *Component) Reset() {
	c.Walk(func(node *Component) bool {
		node.Status = domain.ComponentStatusUp
		return true
	})
}

// Export converts the tree into its published form, visible subcomponents only.
func (c *Component) Export() domain.ExportedComponent {
	exported := domain.ExportedComponent{
		Name:        c.Name,
		Description: c.Description,
		Path:        c.path,
		Status:      c.EffectiveStatus(),
	}
	for _, sub := range c.VisibleSubComponents() {
		exported.SubComponents = append(exported.SubComponents, sub.Export())
	}
	return exported
}
