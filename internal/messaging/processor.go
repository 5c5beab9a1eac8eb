package messaging

import (
	"context"
	"sort"
	"time"

	"github.com/bissquit/status-aggregator/internal/component"
	"github.com/bissquit/status-aggregator/internal/domain"
	"github.com/bissquit/status-aggregator/internal/pkg/ctxlog"
)

// PlannedMessage is a message the processor decided should exist.
type PlannedMessage struct {
	Time      time.Time
	Type      domain.MessageType
	Component *component.Component
	Status    domain.ComponentStatus
}

// Plan holds planned messages keyed by time; a later put at the same time replaces.
type Plan struct {
	messages map[int64]PlannedMessage
}

// NewPlan creates an empty plan.
func NewPlan() *Plan {
	return &Plan{messages: make(map[int64]PlannedMessage)}
}

func (p *Plan) put(message PlannedMessage) {
	p.messages[message.Time.UnixNano()] = message
}

func (p *Plan) remove(t time.Time) {
	delete(p.messages, t.UnixNano())
}

// Messages returns the planned messages ordered by time.
func (p *Plan) Messages() []PlannedMessage {
	result := make([]PlannedMessage, 0, len(p.messages))
	for _, message := range p.messages {
		result = append(result, message)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Time.Before(result[j].Time)
	})
	return result
}

type openMessage struct {
	time      time.Time
	component *component.Component
	status    domain.ComponentStatus
}

// Processor replays changes against a component tree and records which
// messages they produce. At most one message is open at a time.
type Processor struct {
	root  *component.Component
	plan  *Plan
	delay time.Duration
	now   time.Time

	// active holds the statuses applied per path, by entity row key.
	active map[string]map[string]domain.ComponentStatus
	open   *openMessage
}

// NewProcessor creates a processor over root. Starts younger than delay
// relative to now do not open a message, and messages shorter than delay are dropped.
func NewProcessor(root *component.Component, plan *Plan, delay time.Duration, now time.Time) *Processor {
	return &Processor{
		root:   root,
		plan:   plan,
		delay:  delay,
		now:    now,
		active: make(map[string]map[string]domain.ComponentStatus),
	}
}

// Process applies one change.
func (p *Processor) Process(ctx context.Context, change Change) {
	logger := ctxlog.FromContext(ctx)

	switch change.Type {
	case domain.MessageTypeStart, domain.MessageTypeEnd:
	default:
		logger.Warn("ignoring change with unknown type",
			"type", change.Type,
			"row_key", change.EntityRowKey,
		)
		return
	}

	node := p.root.GetByPath(change.AffectedComponentPath)
	if node == nil {
		logger.Warn("ignoring change with unknown component path",
			"path", change.AffectedComponentPath,
			"row_key", change.EntityRowKey,
		)
		return
	}

	if change.Type == domain.MessageTypeStart {
		p.start(ctx, node, change)
		return
	}
	p.end(ctx, node, change)
}

func (p *Processor) start(ctx context.Context, node *component.Component, change Change) {
	logger := ctxlog.FromContext(ctx)

	statuses, ok := p.active[node.Path()]
	if !ok {
		statuses = make(map[string]domain.ComponentStatus)
		p.active[node.Path()] = statuses
	}
	statuses[change.EntityRowKey] = change.AffectedComponentStatus
	node.Status = maxOf(statuses)

	affected := affectedVisibleAncestor(node)
	if affected == nil {
		logger.Debug("change does not affect a visible component", "path", node.Path())
		return
	}

	if p.open != nil {
		target := p.root.GetByPath(domain.LeastCommonAncestorPath(p.open.component.Path(), affected.Path()))
		if target == nil {
			return
		}
		p.open.component = target
		p.open.status = target.EffectiveStatus()
		p.plan.put(PlannedMessage{
			Time:      p.open.time,
			Type:      domain.MessageTypeStart,
			Component: target,
			Status:    p.open.status,
		})
		return
	}

	if p.now.Sub(change.Timestamp) < p.delay {
		logger.Debug("change is too recent to open a message",
			"path", affected.Path(),
			"timestamp", change.Timestamp,
		)
		return
	}

	p.open = &openMessage{
		time:      change.Timestamp,
		component: affected,
		status:    affected.EffectiveStatus(),
	}
	p.plan.put(PlannedMessage{
		Time:      p.open.time,
		Type:      domain.MessageTypeStart,
		Component: affected,
		Status:    p.open.status,
	})
}

func (p *Processor) end(ctx context.Context, node *component.Component, change Change) {
	statuses := p.active[node.Path()]
	delete(statuses, change.EntityRowKey)
	node.Status = maxOf(statuses)

	if p.open == nil || p.open.component.EffectiveStatus() != domain.ComponentStatusUp {
		return
	}

	// a zero-length message would share its start time and replace the start
	if d := change.Timestamp.Sub(p.open.time); d > 0 && d >= p.delay {
		p.plan.put(PlannedMessage{
			Time:      change.Timestamp,
			Type:      domain.MessageTypeEnd,
			Component: p.open.component,
			Status:    p.open.status,
		})
	} else {
		ctxlog.FromContext(ctx).Debug("dropping short-lived message",
			"path", p.open.component.Path(),
			"start", p.open.time,
			"end", change.Timestamp,
		)
		p.plan.remove(p.open.time)
	}
	p.open = nil
}

// affectedVisibleAncestor returns the deepest visible component at or above
// node, or nil when that component is Up.
func affectedVisibleAncestor(node *component.Component) *component.Component {
	visible := node.DeepestVisibleAncestor()
	if visible.EffectiveStatus() == domain.ComponentStatusUp {
		return nil
	}
	return visible
}

func maxOf(statuses map[string]domain.ComponentStatus) domain.ComponentStatus {
	result := domain.ComponentStatusUp
	for _, status := range statuses {
		result = domain.MaxStatus(result, status)
	}
	return result
}
