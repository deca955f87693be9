// Package patch merges a fresh rendering of a template into a live document.
//
// Only the lines that differ between the template and its new rendering are
// written into the document, at the same line index. Every other document line
// is returned untouched, which is what keeps hand edits alive across runs. The
// approach relies on template, rendering and document sharing one line count;
// when that no longer holds the patch is refused instead of guessed.
package patch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

var ErrStructuralMismatch = errors.New("structural mismatch")

// StructuralMismatchError reports a document whose line layout no longer lines
// up with the template.
type StructuralMismatchError struct {
	Path          string
	TemplateLines int
	RenderedLines int
	DocumentLines int
	// Index is the first changed line that could not be placed, or -1.
	Index  int
	Reason string
}

func (e *StructuralMismatchError) Error() string {
	target := e.Path
	if target == "" {
		target = "document"
	}
	msg := fmt.Sprintf("cannot patch %s: %s (template=%d lines, rendered=%d lines, document=%d lines",
		target, e.Reason, e.TemplateLines, e.RenderedLines, e.DocumentLines)
	if e.Index >= 0 {
		msg += fmt.Sprintf(", line index=%d", e.Index)
	}
	return msg + ")"
}

func (e *StructuralMismatchError) Unwrap() error { return ErrStructuralMismatch }

// SplitLines splits text into lines, each keeping its own line ending.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// Changed returns the indices of rendered lines that differ from the template,
// in ascending order. Lines are compared by position; when the line counts
// differ the indices come from a diff alignment instead and only describe
// where the rendering drifted.
func Changed(templateText, renderedText string) []int {
	tmpl, rendered := SplitLines(templateText), SplitLines(renderedText)
	if len(tmpl) != len(rendered) {
		return alignedChanges(tmpl, rendered)
	}
	return positionalChanges(tmpl, rendered)
}

func positionalChanges(tmpl, rendered []string) []int {
	var idx []int
	for i := range rendered {
		if tmpl[i] != rendered[i] {
			idx = append(idx, i)
		}
	}
	return idx
}

func alignedChanges(tmpl, rendered []string) []int {
	m := difflib.NewMatcherWithJunk(tmpl, rendered, false, nil)
	var idx []int
	for _, op := range m.GetOpCodes() {
		switch op.Tag {
		case 'r', 'i':
			for j := op.J1; j < op.J2; j++ {
				idx = append(idx, j)
			}
		}
	}
	return idx
}

// firstShift returns the first rendered line index where the rendering stops
// lining up with the template, or -1.
func firstShift(tmpl, rendered []string) int {
	m := difflib.NewMatcherWithJunk(tmpl, rendered, false, nil)
	for _, op := range m.GetOpCodes() {
		if op.Tag != 'e' {
			return op.J1
		}
	}
	return -1
}

// Patch applies the template→rendered line changes onto currentText.
func Patch(templateText, renderedText, currentText string) (string, error) {
	tmpl := SplitLines(templateText)
	rendered := SplitLines(renderedText)
	if templateText == renderedText {
		return currentText, nil
	}

	doc := SplitLines(currentText)
	mismatch := func(index int, reason string) error {
		return &StructuralMismatchError{
			TemplateLines: len(tmpl),
			RenderedLines: len(rendered),
			DocumentLines: len(doc),
			Index:         index,
			Reason:        reason,
		}
	}

	// A generated value with an embedded line break shifts every later line.
	if len(rendered) != len(tmpl) {
		return "", mismatch(firstShift(tmpl, rendered), "rendered text changed the template's line count")
	}
	if len(doc) != len(tmpl) {
		return "", mismatch(-1, "document line count differs from the template")
	}

	changed := positionalChanges(tmpl, rendered)
	if len(changed) == 0 {
		return currentText, nil
	}
	out := make([]string, len(doc))
	copy(out, doc)
	for _, i := range changed {
		out[i] = rendered[i]
	}
	return strings.Join(out, ""), nil
}
