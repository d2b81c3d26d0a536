// Package notify implements the notification job family: envelope
// payloads delivered through the chat-messaging gateway, gated by a
// circuit breaker.
package notify

import (
	"encoding/json"
	"errors"
	"strings"
)

// Envelope payload errors
var (
	ErrEmptyEnvelope     = errors.New("notify: provide template, text, or media payload")
	ErrMixedEnvelope     = errors.New("notify: template notifications cannot include text or media payload")
	ErrMissingRecipient  = errors.New("notify: recipient is required")
	ErrMalformedEnvelope = errors.New("notify: malformed envelope payload")
)

// Template references a pre-approved message template and its parameters.
type Template struct {
	Name       string `json:"name"`
	Language   string `json:"language,omitempty"`
	Components []any  `json:"components,omitempty"`
}

// Media is an out-of-band attachment referenced by link.
type Media struct {
	Type     string `json:"type"` // image, document, audio, video, sticker
	Link     string `json:"link"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// Envelope is the notification payload. Exactly one channel applies:
// a template, or freeform text/media, never both.
type Envelope struct {
	To       string    `json:"to"`
	Text     string    `json:"text,omitempty"`
	Template *Template `json:"template,omitempty"`
	Media    *Media    `json:"media,omitempty"`
}

// Channel returns the delivery channel implied by the envelope contents.
func (e *Envelope) Channel() string {
	if e.Template != nil {
		return "template"
	}
	return "freeform"
}

// Validate enforces the template-XOR-freeform contract.
func (e *Envelope) Validate() error {
	if strings.TrimSpace(e.To) == "" {
		return ErrMissingRecipient
	}
	hasTemplate := e.Template != nil
	hasFreeform := e.Text != "" || e.Media != nil
	if !hasTemplate && !hasFreeform {
		return ErrEmptyEnvelope
	}
	if hasTemplate && hasFreeform {
		return ErrMixedEnvelope
	}
	return nil
}

// Marshal encodes the envelope as a job payload.
func (e *Envelope) Marshal() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// ParseEnvelope decodes and validates a job payload.
func ParseEnvelope(payload []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, errors.Join(ErrMalformedEnvelope, err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// MaskDestination hides all but the trailing digits of a recipient
// identifier for logs. Destinations are personal data; they never appear
// unmasked in structured events.
func MaskDestination(dest string) string {
	const visible = 4
	runes := []rune(dest)
	if len(runes) <= visible {
		return strings.Repeat("*", len(runes))
	}
	return strings.Repeat("*", len(runes)-visible) + string(runes[len(runes)-visible:])
}
