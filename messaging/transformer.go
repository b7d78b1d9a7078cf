package messaging

import (
	"strings"
	"unicode/utf8"

	"github.com/valyala/fastjson"
)

// DefaultPlaceholder is replaced by the message text inside an envelope template
const DefaultPlaceholder = "%DATA%"

// ShapedMessage is a record ready for publishing
type ShapedMessage struct {
	Destination Destination
	Body        []byte
}

// Transformer turns raw log records into shaped messages. It holds only
// immutable configuration and pooled parsers, so one Transformer may serve
// concurrent writers.
type Transformer struct {
	router      *Router
	fields      []string
	template    string
	placeholder string
	parsers     fastjson.ParserPool
}

// TransformerOption configures a Transformer
type TransformerOption func(*Transformer)

// WithFields keeps only the named fields of JSON records, in the given order
func WithFields(fields ...string) TransformerOption {
	return func(t *Transformer) {
		t.fields = nil
		for _, f := range fields {
			if f = strings.TrimSpace(f); f != "" {
				t.fields = append(t.fields, f)
			}
		}
	}
}

// WithEnvelope wraps every message in template. The template must contain
// the placeholder inside a JSON string literal.
func WithEnvelope(template string) TransformerOption {
	return func(t *Transformer) {
		t.template = template
	}
}

// WithPlaceholder overrides DefaultPlaceholder
func WithPlaceholder(token string) TransformerOption {
	return func(t *Transformer) {
		t.placeholder = token
	}
}

// NewTransformer creates a transformer that resolves destinations with router
func NewTransformer(router *Router, opts ...TransformerOption) (*Transformer, error) {
	if router == nil {
		return nil, &ConfigError{Option: "queue", Reason: "a routing mode is required"}
	}

	t := &Transformer{
		router:      router,
		placeholder: DefaultPlaceholder,
	}
	for _, opt := range opts {
		opt(t)
	}

	if err := t.validateEnvelope(); err != nil {
		return nil, err
	}
	return t, nil
}

// Fields returns the projection list
func (t *Transformer) Fields() []string {
	return append([]string(nil), t.fields...)
}

// Router returns the router used for destination resolution
func (t *Transformer) Router() *Router {
	return t.router
}

func (t *Transformer) validateEnvelope() error {
	if t.template == "" {
		return nil
	}
	if t.placeholder == "" {
		return &ConfigError{Option: "placeholder", Reason: "must not be empty"}
	}
	if n := strings.Count(t.template, t.placeholder); n != 1 {
		return &ConfigError{
			Option: "wrapWith",
			Reason: "must contain the placeholder " + t.placeholder + " exactly once",
		}
	}

	sample := appendString(nil, `{"level":30,"msg":"a \"quoted\"\nline"}`)
	if err := fastjson.Validate(t.substitute(sample)); err != nil {
		return &ConfigError{
			Option: "wrapWith",
			Reason: "is not valid JSON once the placeholder is substituted",
			Err:    err,
		}
	}
	return nil
}

// substitute puts an encoded JSON string literal, without its quotes, in
// place of the placeholder
func (t *Transformer) substitute(literal []byte) string {
	return strings.Replace(t.template, t.placeholder, string(literal[1:len(literal)-1]), 1)
}

// Transform shapes one record. Detection, projection and wrapping run in
// that order; the destination is resolved from the parsed record before
// projection and wrapping.
func (t *Transformer) Transform(record []byte) (*ShapedMessage, error) {
	text := string(record)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "\ufffd")
	}

	p := t.parsers.Get()
	defer t.parsers.Put(p)

	var parsed *fastjson.Value
	if IsJSON(text) {
		v, err := p.Parse(text)
		if err != nil {
			return nil, &TransformError{Op: "parse", Err: err}
		}
		parsed = v
	}

	dest, err := t.router.Resolve(parsed)
	if err != nil {
		return nil, err
	}

	var body []byte
	if parsed != nil && len(t.fields) > 0 {
		body = t.project(parsed)
		text = string(body)
	}

	switch {
	case t.template != "":
		// the envelope embeds the text as it stands: projected, or the
		// record exactly as received
		body, err = t.wrap(text)
		if err != nil {
			return nil, err
		}
	case body != nil:
	case parsed != nil:
		body = appendValue(nil, parsed)
	default:
		body = append([]byte(`{"msg":`), appendString(nil, text)...)
		body = append(body, '}')
	}

	return &ShapedMessage{Destination: dest, Body: body}, nil
}

func (t *Transformer) project(v *fastjson.Value) []byte {
	out := []byte{'{'}
	if v.Type() == fastjson.TypeObject {
		n := 0
		for _, field := range t.fields {
			item := v.Get(field)
			if item == nil {
				continue
			}
			if n > 0 {
				out = append(out, ',')
			}
			out = appendString(out, field)
			out = append(out, ':')
			out = appendValue(out, item)
			n++
		}
	}
	return append(out, '}')
}

func (t *Transformer) wrap(text string) ([]byte, error) {
	p := t.parsers.Get()
	defer t.parsers.Put(p)

	v, err := p.Parse(t.substitute(appendString(nil, text)))
	if err != nil {
		return nil, &TransformError{Op: "wrap", Err: err}
	}
	return appendValue(nil, v), nil
}
