// Package parse turns raw incidents into the components and statuses they affect.
package parse

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/bissquit/status-aggregator/internal/domain"
	"github.com/bissquit/status-aggregator/internal/pkg/ctxlog"
)

// ErrEnvironmentFilterRequired is returned when an environment-prefixed parser
// is built without an environment filter.
var ErrEnvironmentFilterRequired = errors.New("environment-prefixed parser requires an environment filter")

// EnvironmentGroup is the capture group holding the environment of prefixed titles.
const EnvironmentGroup = "Environment"

// Match holds the named capture groups of a title match.
type Match map[string]string

// Parser converts a raw incident into a parsed incident.
// A false result means the incident is not handled by this parser; that is not an error.
type Parser interface {
	Name() string
	TryParse(ctx context.Context, incident domain.RawIncident) (domain.ParsedIncident, bool)
}

// Filter gates a parser after its pattern matched.
type Filter interface {
	Name() string
	Allow(incident domain.RawIncident, match Match) bool
}

// Resolver maps the capture groups of a match to an affected path and status.
// Returns false for unknown capture values.
type Resolver func(match Match) (path string, status domain.ComponentStatus, ok bool)

// RegexParser matches a pattern against the incident title.
type RegexParser struct {
	name    string
	pattern *regexp.Regexp
	resolve Resolver
	filters []Filter
}

// NewRegexParser creates a parser from a title pattern with named capture groups.
func NewRegexParser(name, pattern string, resolve Resolver, filters ...Filter) (*RegexParser, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &RegexParser{
		name:    name,
		pattern: re,
		resolve: resolve,
		filters: filters,
	}, nil
}

// NewEnvironmentPrefixParser creates a parser for titles formatted as "[ENVIRONMENT] ...".
// The pattern describes the title after the prefix. Construction fails without an
// EnvironmentFilter.
func NewEnvironmentPrefixParser(name, pattern string, resolve Resolver, filters ...Filter) (*RegexParser, error) {
	hasEnvironmentFilter := false
	for _, f := range filters {
		if _, ok := f.(*EnvironmentFilter); ok {
			hasEnvironmentFilter = true
			break
		}
	}
	if !hasEnvironmentFilter {
		return nil, ErrEnvironmentFilterRequired
	}

	prefixed := `^\[(?P<` + EnvironmentGroup + `>[^\]]+)\] ` + strings.TrimPrefix(pattern, "^")
	return NewRegexParser(name, prefixed, resolve, filters...)
}

// Name returns the parser name.
func (p *RegexParser) Name() string {
	return p.name
}

// TryParse matches the title, or the subtitle when the title does not match,
// applies filters, then resolves the affected component.
func (p *RegexParser) TryParse(ctx context.Context, incident domain.RawIncident) (domain.ParsedIncident, bool) {
	logger := ctxlog.FromContext(ctx).With("parser", p.name, "incident_id", incident.ID)

	match, ok := p.match(incident.Title)
	if !ok && incident.Subtitle != "" {
		match, ok = p.match(incident.Subtitle)
	}
	if !ok {
		logger.Debug("incident title does not match")
		return domain.ParsedIncident{}, false
	}

	for _, f := range p.filters {
		if !f.Allow(incident, match) {
			logger.Debug("incident rejected by filter", "filter", f.Name())
			return domain.ParsedIncident{}, false
		}
	}

	path, status, ok := p.resolve(match)
	if !ok {
		logger.Info("incident matched but affected component is unknown", "groups", map[string]string(match))
		return domain.ParsedIncident{}, false
	}

	return domain.NewParsedIncident(incident, path, status), true
}

func (p *RegexParser) match(title string) (Match, bool) {
	values := p.pattern.FindStringSubmatch(title)
	if values == nil {
		return nil, false
	}

	match := make(Match)
	for i, name := range p.pattern.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		match[name] = values[i]
	}
	return match, true
}

// Lookup builds a resolver that maps one capture group through a fixed table.
type Lookup map[string]Target

// Target is an affected path and status.
type Target struct {
	Path   string
	Status domain.ComponentStatus
}

// Resolver returns a Resolver reading the given capture group.
func (l Lookup) Resolver(group string) Resolver {
	return func(match Match) (string, domain.ComponentStatus, bool) {
		target, ok := l[match[group]]
		if !ok {
			return "", "", false
		}
		return target.Path, target.Status, true
	}
}

// Fixed returns a Resolver that always resolves to the same target.
func Fixed(path string, status domain.ComponentStatus) Resolver {
	return func(Match) (string, domain.ComponentStatus, bool) {
		return path, status, true
	}
}
