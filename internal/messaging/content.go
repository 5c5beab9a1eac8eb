package messaging

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/bissquit/status-aggregator/internal/component"
	"github.com/bissquit/status-aggregator/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

var (
	// ErrMissingTemplate is returned when a message type has no template.
	ErrMissingTemplate = errors.New("missing message template")

	// ErrMissingActionDescription is returned when no action covers a component path.
	ErrMissingActionDescription = errors.New("missing action description")
)

// ActionDescription describes what users do with the components under Prefix.
type ActionDescription struct {
	Prefix string
	Action string
}

// DefaultActionDescriptions is checked in order; more specific prefixes come first.
var DefaultActionDescriptions = []ActionDescription{
	{component.V3ProtocolPath, "restoring packages from the V3 API"},
	{component.V2ProtocolPath, "restoring packages from the V2 API"},
	{component.RestorePath, "restoring packages"},
	{component.SearchPath, "searching for packages"},
	{component.PackagePublishingPath, "uploading new packages"},
	{component.GalleryPath, "browsing the Gallery website"},
	{component.RootName, "using the registry"},
}

// lower creates a caser per call; casers keep state and cannot be shared.
func lower(s string) string {
	return cases.Lower(language.English).String(s)
}

type templateData struct {
	Name   string
	Status string
	Action string
}

// ContentBuilder renders message contents.
type ContentBuilder struct {
	templates map[domain.MessageType]*template.Template
	actions   []ActionDescription
}

// NewContentBuilder loads the embedded Start and End templates.
func NewContentBuilder() (*ContentBuilder, error) {
	sources := make(map[domain.MessageType]string)
	for _, messageType := range []domain.MessageType{domain.MessageTypeStart, domain.MessageTypeEnd} {
		filename := fmt.Sprintf("templates/%s.tmpl", strings.ToLower(string(messageType)))
		content, err := templatesFS.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", filename, err)
		}
		sources[messageType] = string(content)
	}
	return NewContentBuilderWith(sources, DefaultActionDescriptions)
}

// NewContentBuilderWith builds from explicit templates and actions.
func NewContentBuilderWith(sources map[domain.MessageType]string, actions []ActionDescription) (*ContentBuilder, error) {
	funcMap := template.FuncMap{
		"lower": lower,
	}

	b := &ContentBuilder{
		templates: make(map[domain.MessageType]*template.Template, len(sources)),
		actions:   actions,
	}
	for messageType, source := range sources {
		tmpl, err := template.New(string(messageType)).Funcs(funcMap).Parse(source)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", messageType, err)
		}
		b.templates[messageType] = tmpl
	}
	return b, nil
}

// Build renders the message of the given type for a component at a status.
func (b *ContentBuilder) Build(messageType domain.MessageType, c *component.Component, status domain.ComponentStatus) (string, error) {
	tmpl, ok := b.templates[messageType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingTemplate, messageType)
	}

	action, err := b.action(c.Path())
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	data := templateData{
		Name:   component.DisplayName(c.Path()),
		Status: string(status),
		Action: action,
	}
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template %s: %w", messageType, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func (b *ContentBuilder) action(path string) (string, error) {
	for _, description := range b.actions {
		if domain.IsPathPrefix(description.Prefix, path) {
			return description.Action, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrMissingActionDescription, path)
}
