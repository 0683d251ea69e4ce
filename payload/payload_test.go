package payload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Choice(t *testing.T) {
	p := Parse(`{"type":"choice","options":[{"id":"a","label":"Apply"},{"id":"s","label":"Skip"}]}`)

	assert.Equal(t, TypeChoice, p.Type)
	require.NotNil(t, p.Choice)
	require.Len(t, p.Choice.Options, 2)
	assert.Equal(t, Option{ID: "a", Label: "Apply"}, p.Choice.Options[0])
	assert.False(t, p.Choice.AllowMultiple)
}

func TestParse_ChoiceBareStringOptions(t *testing.T) {
	p := Parse(`{"type":"choice","options":["red","green"],"allow_multiple":true}`)

	require.NotNil(t, p.Choice)
	require.Len(t, p.Choice.Options, 2)
	assert.Equal(t, Option{Label: "red"}, p.Choice.Options[0])
	assert.True(t, p.Choice.AllowMultiple)
}

func TestParse_ConfirmDefaults(t *testing.T) {
	p := Parse(`{"type":"confirm","text":"Deploy to production?"}`)

	assert.Equal(t, TypeConfirm, p.Type)
	require.NotNil(t, p.Confirm)
	assert.Equal(t, "Deploy to production?", p.Confirm.Text)
	assert.Equal(t, "Confirm", p.Confirm.ConfirmLabel)
	assert.Equal(t, "Cancel", p.Confirm.CancelLabel)
	assert.False(t, p.Confirm.SingleAction)
}

func TestParse_ConfirmSingleAction(t *testing.T) {
	// An explicitly empty cancel_label means acknowledge-only; an absent
	// one keeps the default decline option.
	p := Parse(`{"type":"confirm","text":"Ready?","confirm_label":"Continue","cancel_label":""}`)
	require.NotNil(t, p.Confirm)
	assert.True(t, p.Confirm.SingleAction)
	assert.Equal(t, "Continue", p.Confirm.ConfirmLabel)

	p = Parse(`{"type":"confirm","text":"Ready?"}`)
	require.NotNil(t, p.Confirm)
	assert.False(t, p.Confirm.SingleAction)
}

func TestParse_ConfirmBlankLabelsFallBack(t *testing.T) {
	p := Parse(`{"type":"confirm","confirm_label":"   "}`)
	require.NotNil(t, p.Confirm)
	assert.Equal(t, "Confirm", p.Confirm.ConfirmLabel, "whitespace-only confirm label keeps the default")

	p = Parse(`{"type":"confirm","cancel_label":"  "}`)
	require.NotNil(t, p.Confirm)
	assert.True(t, p.Confirm.SingleAction, "whitespace-only cancel label counts as explicitly empty")
}

func TestParse_Form(t *testing.T) {
	p := Parse(`{"type":"form","fields":[{"id":"env","label":"Environment","kind":"select","options":["dev","prod"]},"Notes"]}`)

	assert.Equal(t, TypeForm, p.Type)
	require.NotNil(t, p.Form)
	require.Len(t, p.Form.Fields, 2)
	assert.Equal(t, "Environment", p.Form.Fields[0].Label)
	assert.Equal(t, "select", p.Form.Fields[0].Kind)
	assert.Equal(t, "Notes", p.Form.Fields[1].Label, "bare-string fields become label-only entries")
}

func TestParse_NeverFails(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"invalid json", `{not json`},
		{"empty", ``},
		{"array document", `[1,2,3]`},
		{"unknown type", `{"type":"wizard","steps":3}`},
		{"missing type", `{"options":["a"]}`},
		{"wrong field types", `{"type":"choice","options":42}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Parse(tt.raw)
			assert.Equal(t, TypeUnknown, p.Type)
			assert.Equal(t, tt.raw, p.Raw, "raw bytes always travel with the payload")
		})
	}
}

func TestParse_DeclaredTypeSurvives(t *testing.T) {
	p := Parse(`{"type":"wizard"}`)
	assert.Equal(t, TypeUnknown, p.Type)
	assert.Equal(t, "wizard", p.DeclaredType)

	p = Parse(`{"options":[]}`)
	assert.Equal(t, "", p.DeclaredType)
}

func TestParse_PauseDocument(t *testing.T) {
	p := Parse(PauseDocument)

	assert.Equal(t, TypeConfirm, p.Type)
	require.NotNil(t, p.Confirm)
	assert.Equal(t, "pause", p.Confirm.Variant)
	assert.True(t, p.Confirm.SingleAction)
	assert.Equal(t, "Continue", p.Confirm.ConfirmLabel)
}
