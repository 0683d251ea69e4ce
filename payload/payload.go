// Package payload implements the structured sub-protocol a request may
// carry: a machine-checkable choice / confirm / form intent alongside the
// free-text prompt.
//
// The protocol is deliberately forgiving: an unrecognized type or a
// malformed document is never an error. Parsing degrades to the Unknown
// variant and the raw bytes travel with it, so request creation can never
// be blocked by a bad payload and the renderer always has something to
// show.
package payload

import (
	"encoding/json"
	"strings"
)

// Type discriminates the payload variants.
type Type string

const (
	TypeChoice  Type = "choice"
	TypeConfirm Type = "confirm"
	TypeForm    Type = "form"

	// TypeUnknown is the fallback for unrecognized or malformed
	// documents. It is a first-class variant, not an error.
	TypeUnknown Type = "unknown"
)

// Payload is the parsed view of a structured request document. Raw always
// holds the original bytes; the store and the wire carry Raw, never a
// re-encoding.
type Payload struct {
	Type Type

	Choice  *Choice
	Confirm *Confirm
	Form    *Form

	// Raw is the document as received.
	Raw string

	// DeclaredType is the document's type string when it did not match a
	// known variant ("" when the type field was absent).
	DeclaredType string
}

// Option is a selectable entry of a choice. Either field may be empty;
// bare-string options populate only Label.
type Option struct {
	ID    string `json:"id,omitempty"`
	Label string `json:"label,omitempty"`
}

// Choice asks the operator to pick one (or several) of a fixed set.
type Choice struct {
	Options       []Option `json:"options"`
	AllowMultiple bool     `json:"allow_multiple"`
}

// Confirm asks the operator to acknowledge or decline.
type Confirm struct {
	Text         string `json:"text"`
	ConfirmLabel string `json:"confirm_label"`
	CancelLabel  string `json:"cancel_label"`

	// Variant tags special confirm flavors, e.g. "pause" for the
	// indefinite-wait acknowledgement.
	Variant string `json:"variant,omitempty"`

	// SingleAction is set when the document supplied an explicitly empty
	// cancel_label: there is no decline option, only an acknowledgement.
	SingleAction bool `json:"-"`
}

// Field is one entry of a form.
type Field struct {
	ID            string   `json:"id,omitempty"`
	Label         string   `json:"label"`
	Kind          string   `json:"kind,omitempty"`
	Options       []string `json:"options,omitempty"`
	AllowMultiple bool     `json:"allow_multiple,omitempty"`
}

// Form asks the operator to fill in an ordered list of fields.
type Form struct {
	Fields []Field `json:"fields"`
}

// Parse interprets a payload document. It never fails: anything that is
// not a well-formed known variant comes back as TypeUnknown with the raw
// bytes attached.
func Parse(raw string) Payload {
	p := Payload{Type: TypeUnknown, Raw: raw}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return p
	}

	var declared string
	if t, ok := doc["type"]; ok {
		_ = json.Unmarshal(t, &declared)
	}
	p.DeclaredType = declared

	switch Type(declared) {
	case TypeChoice:
		p.Type = TypeChoice
		p.Choice = parseChoice(doc)
	case TypeConfirm:
		p.Type = TypeConfirm
		p.Confirm = parseConfirm(doc)
	case TypeForm:
		p.Type = TypeForm
		p.Form = parseForm(doc)
	}
	return p
}

func parseChoice(doc map[string]json.RawMessage) *Choice {
	c := &Choice{}

	if raw, ok := doc["allow_multiple"]; ok {
		_ = json.Unmarshal(raw, &c.AllowMultiple)
	}

	raw, ok := doc["options"]
	if !ok {
		return c
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return c
	}
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			c.Options = append(c.Options, Option{Label: s})
			continue
		}
		var opt Option
		if err := json.Unmarshal(item, &opt); err == nil {
			c.Options = append(c.Options, opt)
		}
	}
	return c
}

func parseConfirm(doc map[string]json.RawMessage) *Confirm {
	c := &Confirm{ConfirmLabel: "Confirm", CancelLabel: "Cancel"}

	if raw, ok := doc["text"]; ok {
		_ = json.Unmarshal(raw, &c.Text)
	}
	if raw, ok := doc["variant"]; ok {
		_ = json.Unmarshal(raw, &c.Variant)
	}
	if raw, ok := doc["confirm_label"]; ok {
		var s string
		if json.Unmarshal(raw, &s) == nil && strings.TrimSpace(s) != "" {
			c.ConfirmLabel = s
		}
	}
	if raw, ok := doc["cancel_label"]; ok {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			c.CancelLabel = s
			// An explicitly empty cancel label means "no decline option,
			// just acknowledge".
			c.SingleAction = strings.TrimSpace(s) == ""
		}
	}
	return c
}

func parseForm(doc map[string]json.RawMessage) *Form {
	f := &Form{}

	raw, ok := doc["fields"]
	if !ok {
		return f
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return f
	}
	for _, item := range items {
		var field Field
		if err := json.Unmarshal(item, &field); err == nil {
			f.Fields = append(f.Fields, field)
			continue
		}
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			f.Fields = append(f.Fields, Field{Label: s})
		}
	}
	return f
}

// PauseDocument is the single-action confirm payload the indefinite-wait
// operation sends: no decline option, just a Continue acknowledgement.
const PauseDocument = `{"type":"confirm","variant":"pause","text":"Paused. Click Continue when you are ready.","confirm_label":"Continue","cancel_label":""}`
