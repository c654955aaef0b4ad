package server

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/chazu/slotvm/compiler"
	"github.com/chazu/slotvm/pkg/bytecode"
	"github.com/chazu/slotvm/pkg/exec"
)

// Workspace caches the analysis of every open document.
type Workspace struct {
	docs map[protocol.DocumentUri]*Document
}

// NewWorkspace creates an empty workspace.
func NewWorkspace() *Workspace {
	return &Workspace{docs: make(map[protocol.DocumentUri]*Document)}
}

// Analyze returns the analysis of text, reusing the cached one when the
// text has not changed.
func (w *Workspace) Analyze(uri protocol.DocumentUri, text string) *Document {
	if d, ok := w.docs[uri]; ok && d.Text == text {
		return d
	}
	d := analyze(uri, text)
	w.docs[uri] = d
	return d
}

// Forget drops a closed document.
func (w *Workspace) Forget(uri protocol.DocumentUri) {
	delete(w.docs, uri)
}

// Document is one translated source text.
type Document struct {
	URI         protocol.DocumentUri
	Text        string
	Lines       []string
	Prog        *compiler.Program
	Diagnostics []protocol.Diagnostic
}

func analyze(uri protocol.DocumentUri, text string) *Document {
	d := &Document{
		URI:         uri,
		Text:        text,
		Lines:       strings.Split(text, "\n"),
		Diagnostics: []protocol.Diagnostic{},
	}

	prog, err := compiler.Compile(text)
	d.Prog = prog
	for _, e := range prog.Errors {
		d.Diagnostics = append(d.Diagnostics, d.diagnostic(e.Line, e.Column, e.Msg))
	}
	if err != nil {
		log.Debugf("%s: %d error(s)", uri, len(prog.Errors))
		return d
	}

	// The translator accepts a program without START; the executor does not.
	if _, err := exec.DiscoverLabels(prog.Stream); err != nil {
		line := 0
		var be *bytecode.Error
		if errors.As(err, &be) {
			line = be.Line
		}
		d.Diagnostics = append(d.Diagnostics, d.diagnostic(line, 0, err.Error()))
	}
	return d
}

// diagnostic builds an error spanning the token at column, or the whole
// line when column is 0. Lines and columns are 1-based.
func (d *Document) diagnostic(line, column int, msg string) protocol.Diagnostic {
	severity := protocol.DiagnosticSeverityError
	source := lspName

	var start, end int
	if line > 0 && line <= len(d.Lines) {
		text := d.Lines[line-1]
		if column > 0 {
			start = column - 1
			end = start
			for end < len(text) && !unicode.IsSpace(rune(text[end])) {
				end++
			}
		} else {
			start = len(text) - len(strings.TrimLeftFunc(text, unicode.IsSpace))
			end = len(strings.TrimRightFunc(text, unicode.IsSpace))
		}
	}
	if line > 0 {
		line--
	}

	return protocol.Diagnostic{
		Range:    lineRange(line, start, end),
		Severity: &severity,
		Source:   &source,
		Message:  msg,
	}
}

func lineRange(line, start, end int) protocol.Range {
	return protocol.Range{
		Start: protocol.Position{Line: protocol.UInteger(line), Character: protocol.UInteger(start)},
		End:   protocol.Position{Line: protocol.UInteger(line), Character: protocol.UInteger(end)},
	}
}

// --- Token lookup ---

// tokens returns the tokens of a 0-based line, nil for comments and errors.
func (d *Document) tokens(line int) []compiler.Token {
	if line < 0 || line >= len(d.Lines) || compiler.IsComment(d.Lines[line]) {
		return nil
	}
	toks, err := compiler.Tokenize(d.Lines[line], line+1)
	if err != nil {
		return nil
	}
	return toks
}

// tokenAt returns the tokens of the cursor line and the index of the one
// under the cursor, or -1.
func (d *Document) tokenAt(pos protocol.Position) ([]compiler.Token, int) {
	toks := d.tokens(int(pos.Line))
	ch := int(pos.Character)
	for i, tok := range toks {
		start := tok.Column - 1
		if ch >= start && ch <= start+len(tok.Text) {
			return toks, i
		}
	}
	return toks, -1
}

// isBlockOperand reports whether toks[i] names a block rather than a variable.
func isBlockOperand(toks []compiler.Token, i int) bool {
	if i != 1 || len(toks) == 0 {
		return false
	}
	op, ok := bytecode.LookupOpcode(toks[0].Text)
	return ok && (op == bytecode.OpBlock || op.IsJump())
}

// isName reports whether toks[i] is a variable or block name.
func isName(toks []compiler.Token, i int) bool {
	if i <= 0 || i >= len(toks) || toks[i].Quoted {
		return false
	}
	op, _ := bytecode.LookupOpcode(toks[0].Text)
	switch op {
	case bytecode.OpAlloca, bytecode.OpNum, bytecode.OpStr:
		return i == 1
	}
	return true
}

func (d *Document) symbolAt(pos protocol.Position) *compiler.Symbol {
	toks, i := d.tokenAt(pos)
	if !isName(toks, i) {
		return nil
	}
	if isBlockOperand(toks, i) {
		return d.Prog.Blocks[toks[i].Text]
	}
	return d.Prog.Vars[toks[i].Text]
}

// occurrences returns every mention of sym, in line order.
func (d *Document) occurrences(sym *compiler.Symbol) []protocol.Location {
	lines := append([]int(nil), sym.Refs...)
	sort.Ints(lines)

	var locations []protocol.Location
	last := 0
	for _, n := range lines {
		if n == last {
			continue
		}
		last = n
		toks := d.tokens(n - 1)
		for j, tok := range toks {
			if tok.Text != sym.Name || !isName(toks, j) {
				continue
			}
			if isBlockOperand(toks, j) != (sym.Kind == compiler.SymbolBlock) {
				continue
			}
			start := tok.Column - 1
			locations = append(locations, protocol.Location{
				URI:   d.URI,
				Range: lineRange(n-1, start, start+len(tok.Text)),
			})
		}
	}
	return locations
}

// definitionOf returns the first mention of sym on its defining line.
func (d *Document) definitionOf(sym *compiler.Symbol) (protocol.Location, bool) {
	if sym.Line == 0 {
		return protocol.Location{}, false
	}
	for _, loc := range d.occurrences(sym) {
		if int(loc.Range.Start.Line) == sym.Line-1 {
			return loc, true
		}
	}
	return protocol.Location{}, false
}

// --- Language features ---

// Hover describes the instruction or name under the cursor.
func (d *Document) Hover(pos protocol.Position) *protocol.Hover {
	toks, i := d.tokenAt(pos)
	if i < 0 {
		return nil
	}

	var b strings.Builder
	if i == 0 {
		op, ok := bytecode.LookupOpcode(toks[0].Text)
		if !ok {
			return nil
		}
		info := bytecode.GetOpcodeInfo(op)
		fmt.Fprintf(&b, "**%s** `%s`\n\n%s", info.Name, info.Syntax, info.Doc)
		if info.Prelude {
			b.WriteString("\n\nAlso runs before START.")
		}
	} else {
		sym := d.symbolAt(pos)
		if sym == nil {
			return nil
		}
		fmt.Fprintf(&b, "**%s** `%s`\n\n", sym.Kind, sym.Name)
		if sym.Line == 0 {
			b.WriteString("Never declared.")
		} else {
			fmt.Fprintf(&b, "Slot %d, defined on line %d.", sym.ID, sym.Line)
		}
	}

	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
	}
}

// Definition returns the defining mention of the name under the cursor.
func (d *Document) Definition(pos protocol.Position) []protocol.Location {
	sym := d.symbolAt(pos)
	if sym == nil {
		return nil
	}
	loc, ok := d.definitionOf(sym)
	if !ok {
		return nil
	}
	return []protocol.Location{loc}
}

// References returns every mention of the name under the cursor.
func (d *Document) References(pos protocol.Position, includeDeclaration bool) []protocol.Location {
	sym := d.symbolAt(pos)
	if sym == nil {
		return nil
	}
	all := d.occurrences(sym)
	if includeDeclaration {
		return all
	}
	def, ok := d.definitionOf(sym)
	if !ok {
		return all
	}
	var refs []protocol.Location
	for _, loc := range all {
		if loc != def {
			refs = append(refs, loc)
		}
	}
	return refs
}

// Complete offers instruction names at the start of a line and known
// names after it.
func (d *Document) Complete(pos protocol.Position) []protocol.CompletionItem {
	if int(pos.Line) >= len(d.Lines) {
		return nil
	}
	line := d.Lines[pos.Line]
	col := min(int(pos.Character), len(line))
	prefix := extractPrefix(line, col)
	before := strings.Fields(line[:col-len(prefix)])

	var items []protocol.CompletionItem
	if len(before) == 0 {
		kind := protocol.CompletionItemKindKeyword
		upper := strings.ToUpper(prefix)
		for _, name := range bytecode.Mnemonics() {
			if !strings.HasPrefix(name, upper) {
				continue
			}
			op, _ := bytecode.LookupOpcode(name)
			detail := bytecode.GetOpcodeInfo(op).Syntax
			items = append(items, protocol.CompletionItem{
				Label:      name,
				Kind:       &kind,
				Detail:     &detail,
				InsertText: &name,
			})
		}
		return items
	}

	op, _ := bytecode.LookupOpcode(before[0])
	symbols, kind := d.Prog.Vars, protocol.CompletionItemKindVariable
	if len(before) == 1 && (op == bytecode.OpBlock || op.IsJump()) {
		symbols, kind = d.Prog.Blocks, protocol.CompletionItemKindReference
	}

	names := make([]string, 0, len(symbols))
	for name := range symbols {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	// Limit results
	const maxItems = 100
	if len(names) > maxItems {
		names = names[:maxItems]
	}

	for _, name := range names {
		sym := symbols[name]
		detail := fmt.Sprintf("%s, slot %d", sym.Kind, sym.ID)
		items = append(items, protocol.CompletionItem{
			Label:      name,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &sym.Name,
		})
	}
	return items
}

// extractPrefix returns the name fragment before the cursor for completion.
func extractPrefix(line string, col int) string {
	start := col
	for start > 0 {
		ch := rune(line[start-1])
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' {
			start--
		} else {
			break
		}
	}
	return line[start:col]
}
