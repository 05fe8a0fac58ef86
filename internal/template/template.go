package template

import (
	"fmt"
	"strings"
	texttemplate "text/template"

	"github.com/eci-platform/notifyd/internal/domain"
)

const DefaultLocale = "en"

// Template is a resolved subject/body pair for one event type, channel and
// locale. Placeholders reference event payload keys; every referenced key
// is required.
type Template struct {
	ID      string
	subject *texttemplate.Template
	body    *texttemplate.Template
}

type Rendered struct {
	Subject string
	Body    string
}

// Render substitutes payload values into the template. A placeholder with
// no matching payload key is a MISSING_VARIABLE failure, which is permanent:
// retrying never changes the payload shape.
func (t *Template) Render(payload map[string]string) (Rendered, error) {
	var subject, body strings.Builder
	if err := t.subject.Execute(&subject, payload); err != nil {
		return Rendered{}, domain.Classify(domain.KindMissingVariable, fmt.Errorf("render subject of %s: %w", t.ID, err))
	}
	if err := t.body.Execute(&body, payload); err != nil {
		return Rendered{}, domain.Classify(domain.KindMissingVariable, fmt.Errorf("render body of %s: %w", t.ID, err))
	}
	return Rendered{Subject: subject.String(), Body: strings.TrimSpace(body.String())}, nil
}

// Registry maps event types to templates and delivery routes.
type Registry struct {
	templates map[string]*Template
	routes    map[string][]domain.Channel
}

func NewRegistry() *Registry {
	r := &Registry{
		templates: make(map[string]*Template),
		routes:    make(map[string][]domain.Channel),
	}
	for _, def := range builtinTemplates {
		r.register(def)
	}
	return r
}

func (r *Registry) register(def templateDef) {
	id := fmt.Sprintf("%s/%s/%s", def.eventType, def.channel, def.locale)
	t := &Template{
		ID:      id,
		subject: texttemplate.Must(texttemplate.New(id + "#subject").Option("missingkey=error").Parse(def.subject)),
		body:    texttemplate.Must(texttemplate.New(id + "#body").Option("missingkey=error").Parse(def.body)),
	}
	r.templates[id] = t

	channels := r.routes[def.eventType]
	for _, ch := range channels {
		if ch == def.channel {
			return
		}
	}
	r.routes[def.eventType] = append(channels, def.channel)
}

// Known reports whether any template exists for the event type.
func (r *Registry) Known(eventType string) bool {
	return len(r.routes[eventType]) > 0
}

// Routes lists the channels an event type fans out to.
func (r *Registry) Routes(eventType string) []domain.Channel {
	return r.routes[eventType]
}

// Resolve finds the template for an event type, channel and locale, falling
// back to the default locale. A miss is a TEMPLATE_NOT_FOUND failure.
func (r *Registry) Resolve(eventType string, channel domain.Channel, locale string) (*Template, error) {
	if locale == "" {
		locale = DefaultLocale
	}
	if t, ok := r.templates[fmt.Sprintf("%s/%s/%s", eventType, channel, locale)]; ok {
		return t, nil
	}
	if locale != DefaultLocale {
		if t, ok := r.templates[fmt.Sprintf("%s/%s/%s", eventType, channel, DefaultLocale)]; ok {
			return t, nil
		}
	}
	return nil, domain.Classify(domain.KindTemplateNotFound,
		fmt.Errorf("no template for event %q channel %s locale %s", eventType, channel, locale))
}
