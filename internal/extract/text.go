package extract

import "strings"

// TextExtractor handles plain text files as a single unit.
type TextExtractor struct{}

func (e *TextExtractor) Extensions() []string {
	return []string{".txt", ".text", ".log"}
}

func (e *TextExtractor) Extract(path string) (*Result, error) {
	text, err := readFileText(path)
	if err != nil {
		return nil, err
	}
	return &Result{
		Units:  map[int]string{1: strings.TrimSpace(text)},
		Format: FormatText,
		Method: "plain_text",
	}, nil
}

// MarkdownExtractor splits markdown into sections at top-level headings,
// so each section chunks and embeds with its own heading.
type MarkdownExtractor struct{}

func (e *MarkdownExtractor) Extensions() []string {
	return []string{".md", ".markdown"}
}

func (e *MarkdownExtractor) Extract(path string) (*Result, error) {
	text, err := readFileText(path)
	if err != nil {
		return nil, err
	}

	units := make(map[int]string)
	unit := 0
	var current []string

	flush := func() {
		section := strings.TrimSpace(strings.Join(current, "\n"))
		if section != "" {
			unit++
			units[unit] = section
		}
		current = current[:0]
	}

	inFence := false
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
		}
		if !inFence && isTopHeading(line) {
			flush()
		}
		current = append(current, line)
	}
	flush()

	if len(units) == 0 {
		units[1] = ""
	}

	return &Result{
		Units:  units,
		Format: FormatMarkdown,
		Method: "markdown_sections",
	}, nil
}

// isTopHeading matches # and ## headings; deeper levels stay inside
// their parent section.
func isTopHeading(line string) bool {
	return strings.HasPrefix(line, "# ") || strings.HasPrefix(line, "## ")
}

// CodeExtractor reads source files whole; AST chunking happens later.
type CodeExtractor struct{}

func (e *CodeExtractor) Extensions() []string {
	return []string{".go", ".py", ".js", ".mjs", ".jsx", ".ts", ".tsx"}
}

func (e *CodeExtractor) Extract(path string) (*Result, error) {
	text, err := readFileText(path)
	if err != nil {
		return nil, err
	}
	return &Result{
		Units:  map[int]string{1: text},
		Format: FormatCode,
		Method: "code_source",
	}, nil
}
