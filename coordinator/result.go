package coordinator

import (
	"encoding/base64"
	"strings"

	"github.com/BaSui01/cueflow/store"
)

// Content is one block of caller-facing output: plain text or an inline
// base64 image.
type Content struct {
	Type     string
	Text     string
	Data     string
	MimeType string
}

const (
	ContentText  = "text"
	ContentImage = "image"
)

// FileOpener resolves a stored file reference to its bytes. The console
// and the agent may run on different machines; the opener hides where the
// attachment bytes actually live.
type FileOpener interface {
	Open(ref store.FileRef) ([]byte, error)
}

// Contents renders a resolved wait for the calling agent: the outcome
// instruction, the operator's text, images inlined as base64, and the
// paths of any other attachments. An attachment that cannot be read
// degrades to its path instead of failing the whole result.
func Contents(res *Result, opener FileOpener) []Content {
	if res.Outcome != OutcomeAnswered {
		return []Content{{Type: ContentText, Text: res.Outcome.Instruction()}}
	}

	var out []Content
	var paths []string

	text := ""
	if res.Response != nil {
		text = strings.TrimSpace(res.Response.Response.Text)
	}
	switch {
	case text != "":
		out = append(out, Content{
			Type: ContentText,
			Text: "The user wants to continue and provided the following instructions:\n\n" + text,
		})
	default:
		out = append(out, Content{
			Type: ContentText,
			Text: "The user wants to continue and attached files.",
		})
	}

	for _, ref := range res.Files {
		if ref.IsImage() && opener != nil {
			data, err := opener.Open(ref)
			if err == nil {
				out = append(out, Content{
					Type:     ContentImage,
					Data:     base64.StdEncoding.EncodeToString(data),
					MimeType: ref.MimeType,
				})
				continue
			}
		}
		paths = append(paths, ref.Path)
	}
	if len(paths) > 0 {
		out = append(out, Content{
			Type: ContentText,
			Text: "Attachments:\n- " + strings.Join(paths, "\n- "),
		})
	}
	return out
}
