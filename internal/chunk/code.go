package chunk

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	dexerrors "github.com/quillstack/docdex/internal/errors"
)

// minFragmentChars filters out trivial gaps between symbols.
const minFragmentChars = 50

// CodeChunker produces symbol-aligned chunks from source files using
// tree-sitter. Symbols larger than the size limit are split by lines
// with a small line overlap; code between symbols becomes code_block
// chunks. Files in unsupported languages fall back to plain line blocks.
type CodeChunker struct {
	registry     *LanguageRegistry
	size         int
	overlapLines int
}

// NewCodeChunker creates a code chunker. Non-positive parameters take
// the code defaults.
func NewCodeChunker(size, overlapLines int) *CodeChunker {
	if size <= 0 {
		size = DefaultCodeSize
	}
	if overlapLines <= 0 {
		overlapLines = DefaultCodeOverlap
	}
	return &CodeChunker{
		registry:     DefaultRegistry(),
		size:         size,
		overlapLines: overlapLines,
	}
}

type codeSymbol struct {
	name      string
	kind      string
	startLine int // 1-indexed
	endLine   int // inclusive
	text      string
}

// ChunkFile chunks one source file. All chunks share unit number 1 and
// take sequential chunk indexes, so code files follow the same ID and
// ordering scheme as text documents.
func (c *CodeChunker) ChunkFile(ctx context.Context, filename string, content []byte, documentID string) ([]Chunk, error) {
	if strings.TrimSpace(string(content)) == "" {
		return nil, dexerrors.Newf(dexerrors.ErrCodeEmptyDocument, "no content in %s", filename)
	}

	cfg, ok := c.registry.ByExtension(filepath.Ext(filename))
	if !ok {
		return c.chunkLines(string(content), documentID, filename, "", SymbolBlock, 1, false), nil
	}

	grammar, _ := c.registry.Grammar(cfg.Name)
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(grammar)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil || tree == nil {
		// Unparseable files still get indexed as plain line blocks.
		return c.chunkLines(string(content), documentID, filename, cfg.Name, SymbolBlock, 1, false), nil
	}
	defer tree.Close()

	root := tree.RootNode()
	fileContext := c.extractFileContext(root, content, cfg)
	symbols := c.collectSymbols(root, content, cfg)

	var chunks []Chunk
	index := 0

	emit := func(text, symbolName, symbolType string, lineStart, lineEnd int, partial bool) {
		body := text
		if fileContext != "" {
			body = fileContext + "\n\n" + text
		}
		chunks = append(chunks, Chunk{
			ChunkID:    ID(documentID, 1, index),
			DocumentID: documentID,
			Filename:   filename,
			UnitNumber: 1,
			ChunkIndex: index,
			Text:       body,
			Language:   cfg.Name,
			SymbolName: symbolName,
			SymbolType: symbolType,
			LineStart:  lineStart,
			LineEnd:    lineEnd,
			Partial:    partial,
		})
		index++
	}

	for _, sym := range symbols {
		if len(sym.text) <= c.size {
			emit(sym.text, sym.name, sym.kind, sym.startLine, sym.endLine, false)
			continue
		}
		for _, part := range c.splitLines(sym.text, sym.startLine) {
			emit(part.text, sym.name, sym.kind, part.startLine, part.endLine, true)
		}
	}

	// Code between symbols (declarations, global statements).
	for _, gap := range c.uncoveredRanges(string(content), symbols) {
		if len(strings.TrimSpace(gap.text)) < minFragmentChars {
			continue
		}
		if len(gap.text) <= c.size {
			emit(strings.TrimSpace(gap.text), "", SymbolBlock, gap.startLine, gap.endLine, false)
			continue
		}
		for _, part := range c.splitLines(gap.text, gap.startLine) {
			emit(part.text, "", SymbolBlock, part.startLine, part.endLine, true)
		}
	}

	if len(chunks) == 0 {
		return c.chunkLines(string(content), documentID, filename, cfg.Name, SymbolBlock, 1, false), nil
	}
	return chunks, nil
}

// collectSymbols walks the AST collecting symbol-defining nodes. Matched
// nodes are not descended into, so a method inside a class belongs to
// the class chunk rather than producing a duplicate.
func (c *CodeChunker) collectSymbols(root *sitter.Node, source []byte, cfg *LanguageConfig) []codeSymbol {
	var symbols []codeSymbol

	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			kind, isSymbol := cfg.SymbolTypes[child.Type()]
			if !isSymbol {
				walk(child)
				continue
			}
			symbols = append(symbols, codeSymbol{
				name:      symbolName(child, source),
				kind:      kind,
				startLine: int(child.StartPoint().Row) + 1,
				endLine:   int(child.EndPoint().Row) + 1,
				text:      child.Content(source),
			})
		}
	}
	walk(root)

	sort.Slice(symbols, func(i, j int) bool { return symbols[i].startLine < symbols[j].startLine })
	return symbols
}

// symbolName pulls the identifier out of a symbol node.
func symbolName(n *sitter.Node, source []byte) string {
	if name := n.ChildByFieldName("name"); name != nil {
		return name.Content(source)
	}
	// type_declaration wraps a type_spec carrying the name.
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if name := child.ChildByFieldName("name"); name != nil {
			return name.Content(source)
		}
	}
	return ""
}

// extractFileContext joins the root-level context nodes (package clause,
// imports) so each symbol chunk embeds with its file scope.
func (c *CodeChunker) extractFileContext(root *sitter.Node, source []byte, cfg *LanguageConfig) string {
	contextTypes := make(map[string]bool, len(cfg.ContextTypes))
	for _, t := range cfg.ContextTypes {
		contextTypes[t] = true
	}

	var parts []string
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		if contextTypes[child.Type()] {
			parts = append(parts, child.Content(source))
		}
	}
	return strings.Join(parts, "\n")
}

type lineRange struct {
	text      string
	startLine int
	endLine   int
}

// splitLines cuts text into pieces no larger than c.size characters,
// breaking at line boundaries and repeating overlapLines lines between
// adjacent pieces.
func (c *CodeChunker) splitLines(text string, startLine int) []lineRange {
	lines := strings.Split(text, "\n")

	var parts []lineRange
	var current []string
	currentStart := startLine
	currentLen := 0

	for i, line := range lines {
		lineLen := len(line) + 1

		if currentLen+lineLen > c.size && len(current) > 0 {
			parts = append(parts, lineRange{
				text:      strings.Join(current, "\n"),
				startLine: currentStart,
				endLine:   startLine + i - 1,
			})

			overlap := c.overlapLines
			if overlap >= len(current) {
				overlap = len(current) - 1
			}
			if overlap < 0 {
				overlap = 0
			}
			current = append([]string(nil), current[len(current)-overlap:]...)
			currentStart = startLine + i - len(current)
			currentLen = 0
			for _, l := range current {
				currentLen += len(l) + 1
			}
		}

		current = append(current, line)
		currentLen += lineLen
	}

	if len(current) > 0 {
		parts = append(parts, lineRange{
			text:      strings.Join(current, "\n"),
			startLine: currentStart,
			endLine:   startLine + len(lines) - 1,
		})
	}

	return parts
}

// uncoveredRanges returns the line ranges not covered by any symbol.
func (c *CodeChunker) uncoveredRanges(content string, symbols []codeSymbol) []lineRange {
	lines := strings.Split(content, "\n")

	type span struct{ start, end int } // 0-indexed, end exclusive
	covered := make([]span, 0, len(symbols))
	for _, s := range symbols {
		covered = append(covered, span{s.startLine - 1, s.endLine})
	}
	sort.Slice(covered, func(i, j int) bool { return covered[i].start < covered[j].start })

	var merged []span
	for _, s := range covered {
		if len(merged) > 0 && s.start <= merged[len(merged)-1].end {
			if s.end > merged[len(merged)-1].end {
				merged[len(merged)-1].end = s.end
			}
			continue
		}
		merged = append(merged, s)
	}

	var gaps []lineRange
	prev := 0
	appendGap := func(start, end int) {
		text := strings.Join(lines[start:end], "\n")
		gaps = append(gaps, lineRange{text: text, startLine: start + 1, endLine: end})
	}
	for _, s := range merged {
		if prev < s.start {
			appendGap(prev, s.start)
		}
		if s.end > prev {
			prev = s.end
		}
	}
	if prev < len(lines) {
		appendGap(prev, len(lines))
	}

	return gaps
}

// chunkLines is the fallback path for unsupported or unparseable files.
func (c *CodeChunker) chunkLines(content, documentID, filename, language, symbolType string, unit int, partial bool) []Chunk {
	var chunks []Chunk
	for i, part := range c.splitLines(content, 1) {
		chunks = append(chunks, Chunk{
			ChunkID:    ID(documentID, unit, i),
			DocumentID: documentID,
			Filename:   filename,
			UnitNumber: unit,
			ChunkIndex: i,
			Text:       part.text,
			Language:   language,
			SymbolType: symbolType,
			LineStart:  part.startLine,
			LineEnd:    part.endLine,
			Partial:    partial,
		})
	}
	return chunks
}
