package payload

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Render turns a payload document into operator-facing terminal text.
// Rendering never fails: invalid JSON comes back verbatim, unrecognized
// documents get a fallback title. With debug set, the raw document is
// appended pretty-printed.
func Render(raw string, debug bool) string {
	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return raw
	}
	if _, ok := parsed.(map[string]any); !ok {
		return maybeDebug("Structured data", parsed, debug)
	}

	p := Parse(raw)
	switch p.Type {
	case TypeChoice:
		return joinWithDebug(renderChoice(p.Choice), parsed, debug)
	case TypeConfirm:
		return joinWithDebug(renderConfirm(p.Confirm), parsed, debug)
	case TypeForm:
		return joinWithDebug(renderForm(p.Form), parsed, debug)
	default:
		declared := p.DeclaredType
		if declared == "" {
			declared = "unknown"
		}
		return maybeDebug(fmt.Sprintf("Structured request (type=%s)", declared), parsed, debug)
	}
}

func renderChoice(c *Choice) string {
	var lines []string
	if c.AllowMultiple {
		lines = append(lines, "Please choose (multiple allowed):")
	} else {
		lines = append(lines, "Please choose:")
	}

	if len(c.Options) == 0 {
		lines = append(lines, "(no options)")
		return strings.Join(lines, "\n")
	}
	for _, opt := range c.Options {
		id := strings.TrimSpace(opt.ID)
		label := strings.TrimSpace(opt.Label)
		switch {
		case id != "" && label != "":
			lines = append(lines, id+": "+label)
		case id != "":
			lines = append(lines, id)
		case label != "":
			lines = append(lines, "- "+label)
		default:
			lines = append(lines, "- <empty>")
		}
	}
	return strings.Join(lines, "\n")
}

func renderConfirm(c *Confirm) string {
	lines := []string{"Confirmation required:"}
	if text := strings.TrimSpace(c.Text); text != "" {
		lines = append(lines, text)
	}

	confirmLabel := strings.TrimSpace(c.ConfirmLabel)
	if confirmLabel == "" {
		confirmLabel = "Confirm"
	}
	if c.SingleAction {
		lines = append(lines, "Options: "+confirmLabel)
	} else {
		cancelLabel := strings.TrimSpace(c.CancelLabel)
		if cancelLabel == "" {
			cancelLabel = "Cancel"
		}
		lines = append(lines, "Options: "+confirmLabel+" / "+cancelLabel)
	}
	return strings.Join(lines, "\n")
}

func renderForm(f *Form) string {
	lines := []string{"Please fill in the following:"}
	if len(f.Fields) == 0 {
		lines = append(lines, "(no fields)")
		return strings.Join(lines, "\n")
	}
	for _, field := range f.Fields {
		name := strings.TrimSpace(field.Label)
		if name == "" {
			name = strings.TrimSpace(field.ID)
		}
		if name == "" {
			name = "Field"
		}
		if kind := strings.TrimSpace(field.Kind); kind != "" {
			name += " (" + kind + ")"
		}
		lines = append(lines, "- "+name)
	}
	return strings.Join(lines, "\n")
}

func maybeDebug(title string, data any, debug bool) string {
	base := title + ":"
	if !debug {
		return base
	}
	return base + "\n" + prettyJSON(data)
}

func joinWithDebug(text string, data any, debug bool) string {
	if !debug {
		return text
	}
	return text + "\n\n---\n[debug]\n" + prettyJSON(data)
}

func prettyJSON(data any) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(b)
}
