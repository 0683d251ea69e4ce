package consumer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/BaSui01/cueflow/store"
)

// TerminalPrompter collects operator input on a terminal. Text lines
// accumulate until a blank line submits; "/file <path>" queues an
// attachment and "/no" declines the request.
type TerminalPrompter struct {
	in  *bufio.Scanner
	out io.Writer
}

// NewTerminalPrompter creates a prompter reading from in and writing to
// out (typically os.Stdin and os.Stdout).
func NewTerminalPrompter(in io.Reader, out io.Writer) *TerminalPrompter {
	return &TerminalPrompter{
		in:  bufio.NewScanner(in),
		out: out,
	}
}

// Prompt implements Prompter.
func (p *TerminalPrompter) Prompt(ctx context.Context, req *store.Request, rendered string) (Input, error) {
	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, strings.Repeat("-", 60))
	fmt.Fprintf(p.out, "[%s] %s\n\n", req.AgentID, req.RequestID)
	fmt.Fprintln(p.out, rendered)
	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, "Reply below. Blank line submits, /file <path> attaches, /no declines.")
	fmt.Fprint(p.out, "> ")

	var input Input
	var lines []string
	for p.in.Scan() {
		line := p.in.Text()
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "/no":
			input.Declined = true
			return input, nil
		case strings.HasPrefix(trimmed, "/file "):
			path := strings.TrimSpace(strings.TrimPrefix(trimmed, "/file "))
			if path != "" {
				input.Files = append(input.Files, path)
			}
			fmt.Fprint(p.out, "> ")
			continue
		case trimmed == "":
			input.Text = strings.Join(lines, "\n")
			return input, nil
		}

		lines = append(lines, line)
		fmt.Fprint(p.out, "> ")
	}
	if err := p.in.Err(); err != nil {
		return Input{}, fmt.Errorf("failed to read operator input: %w", err)
	}

	// EOF: treat whatever accumulated as the submission.
	input.Text = strings.Join(lines, "\n")
	return input, nil
}
