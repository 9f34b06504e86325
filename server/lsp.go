// Package server implements a language server for Atlas assembly listings.
package server

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/atlas-lang/atlas/pkg/asm"
	"github.com/atlas-lang/atlas/pkg/bytecode"
	"github.com/atlas-lang/atlas/pkg/value"
	"github.com/atlas-lang/atlas/stdlib"
	"github.com/atlas-lang/atlas/vm"
)

const lspName = "atlas-lsp"

var log = commonlog.GetLogger("atlas.server")

// LspServer provides diagnostics, hover, completion, definitions and
// references for .atasm documents.
type LspServer struct {
	mu   sync.Mutex
	docs map[string]*document // URI → analyzed document

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server.
func NewLSP(version string) *LspServer {
	s := &LspServer{
		docs:    make(map[string]*document),
		version: version,
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
		TextDocumentReferences: s.textDocumentReferences,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	log.Info("Atlas LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{"."},
	}

	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true
	capabilities.ReferencesProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	protocol.SetTraceValue(protocol.TraceValueOff)
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	protocol.SetTraceValue(params.Value)
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	doc := s.update(uri, params.TextDocument.Text)
	s.publishDiagnostics(ctx, uri, doc)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			doc := s.update(uri, whole.Text)
			s.publishDiagnostics(ctx, uri, doc)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

// update re-analyzes a document, keeping the previous program's symbols
// when the new text does not assemble.
func (s *LspServer) update(uri protocol.DocumentUri, text string) *document {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := analyze(text, s.docs[string(uri)])
	s.docs[string(uri)] = doc
	log.Debugf("%s: %d errors", uri, len(doc.errs))
	return doc
}

func (s *LspServer) lookup(uri protocol.DocumentUri) *document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[string(uri)]
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	doc := s.lookup(params.TextDocument.URI)
	if doc == nil {
		return nil, nil
	}
	prefix := extractPrefix(doc.text, params.Position)
	if prefix == "" {
		return nil, nil
	}
	return doc.complete(prefix), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	doc := s.lookup(params.TextDocument.URI)
	if doc == nil {
		return nil, nil
	}
	word := extractWord(doc.text, params.Position)
	if word == "" {
		return nil, nil
	}
	return doc.hover(word), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	doc := s.lookup(uri)
	if doc == nil {
		return nil, nil
	}
	word := extractWord(doc.text, params.Position)
	if word == "" {
		return nil, nil
	}
	if loc := doc.definition(uri, word); loc != nil {
		return loc, nil
	}
	return nil, nil
}

func (s *LspServer) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	uri := params.TextDocument.URI
	doc := s.lookup(uri)
	if doc == nil {
		return nil, nil
	}
	word := extractWord(doc.text, params.Position)
	if word == "" {
		return nil, nil
	}
	return doc.references(uri, word), nil
}

// --- Diagnostics ---

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, doc *document) {
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: doc.diagnostics(),
	})
}

// ---------------------------------------------------------------------------
// Document analysis
// ---------------------------------------------------------------------------

// document is one assembled listing. prog is the last program that
// assembled cleanly, possibly from an earlier version of the text.
type document struct {
	text  string
	lines []string
	prog  *asm.Program
	errs  asm.ErrorList
}

func analyze(text string, prev *document) *document {
	doc := &document{text: text, lines: strings.Split(text, "\n")}
	prog, err := asm.Assemble(text)
	switch {
	case err == nil:
		doc.prog = prog
	case errors.As(err, &doc.errs):
		if prev != nil {
			doc.prog = prev.prog
		}
	default:
		doc.errs = asm.ErrorList{{Line: 1, Msg: err.Error()}}
	}
	return doc
}

func (d *document) diagnostics() []protocol.Diagnostic {
	diagnostics := []protocol.Diagnostic{}
	severity := protocol.DiagnosticSeverityError
	source := lspName
	for _, e := range d.errs {
		diagnostics = append(diagnostics, protocol.Diagnostic{
			Range:    d.lineRange(e.Line),
			Severity: &severity,
			Source:   &source,
			Message:  e.Msg,
		})
	}
	return diagnostics
}

// lineRange covers the text of a 1-based line, without leading indentation.
func (d *document) lineRange(line int) protocol.Range {
	idx := line - 1
	if idx < 0 || idx >= len(d.lines) {
		return protocol.Range{}
	}
	text := d.lines[idx]
	start := len(text) - len(strings.TrimLeft(text, " \t"))
	return protocol.Range{
		Start: protocol.Position{Line: protocol.UInteger(idx), Character: protocol.UInteger(start)},
		End:   protocol.Position{Line: protocol.UInteger(idx), Character: protocol.UInteger(len(strings.TrimRight(text, " \t\r")))},
	}
}

var directiveDocs = map[string]string{
	".locals":  "`.locals N`\n\nNumber of top-level local slots.",
	".const":   "`.const NAME VALUE`\n\nNames a literal in the constant pool.",
	".func":    "`.func NAME [arity=N] [locals=N] [params=a:own,b] [returns=own]`\n\nOpens a function body, closed by `.end`.",
	".capture": "`.capture NAME local|upvalue INDEX`\n\nDeclares a closure capture of the open function.",
	".end":     "`.end`\n\nCloses the open function.",
}

func (d *document) hover(word string) *protocol.Hover {
	var b strings.Builder
	switch {
	case directiveDocs[word] != "":
		b.WriteString(directiveDocs[word])
	case isMnemonic(word):
		op, _ := bytecode.LookupOpcode(word)
		writeOpcodeDoc(&b, op)
	default:
		if !d.writeSymbolDoc(&b, word) && !writeBuiltinDoc(&b, word) {
			return nil
		}
	}
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
	}
}

func isMnemonic(word string) bool {
	_, ok := bytecode.LookupOpcode(word)
	return ok
}

func writeOpcodeDoc(b *strings.Builder, op bytecode.Opcode) {
	info := bytecode.GetOpcodeInfo(op)
	fmt.Fprintf(b, "**%s** `0x%02X`\n\n", info.Name, byte(op))
	if info.Operand == bytecode.OperandNone {
		b.WriteString("No operand.")
	} else {
		fmt.Fprintf(b, "Operand: %s (%d bytes).", info.Operand, info.Operand.Len())
	}
	b.WriteString("\n\nStack: ")
	if info.StackPop < 0 {
		b.WriteString("pops a variable number")
	} else {
		fmt.Fprintf(b, "pops %d", info.StackPop)
	}
	fmt.Fprintf(b, ", pushes %d.", info.StackPush)
}

func (d *document) writeSymbolDoc(b *strings.Builder, word string) bool {
	if d.prog == nil {
		return false
	}
	if sym, ok := d.prog.Constants[word]; ok {
		c, _ := d.prog.Bytecode.Constant(sym.Offset)
		fmt.Fprintf(b, "**%s** constant `#%d`\n\n`%s` (%s)", word, sym.Offset, c.Inspect(), c.TypeName())
		return true
	}
	if sym, ok := d.prog.Functions[word]; ok {
		c, _ := d.prog.Bytecode.Constant(sym.Const)
		fn := c.AsFunction()
		if fn == nil {
			return false
		}
		fmt.Fprintf(b, "**%s** function `#%d`\n\n", word, sym.Const)
		fmt.Fprintf(b, "Arity %d, %d locals, entry `%04X`", fn.Arity, fn.LocalCount, fn.BytecodeOffset)
		if n := len(fn.Captures); n > 0 {
			fmt.Fprintf(b, ", %d captures", n)
		}
		if fn.HasOwnershipAnnotations() {
			params := make([]string, fn.Arity)
			for i := range params {
				params[i] = paramLabel(fn.ParamNames, i)
				if mode := fn.ParamOwnershipAt(i); mode != value.OwnershipNone {
					params[i] += ":" + mode.String()
				}
			}
			fmt.Fprintf(b, "\n\nParameters: `%s`", strings.Join(params, ", "))
		}
		return true
	}
	if sym, ok := d.prog.Labels[word]; ok {
		fmt.Fprintf(b, "**%s** label at `%04X` (line %d)", word, sym.Offset, sym.Line)
		return true
	}
	return false
}

func paramLabel(names []string, i int) string {
	if i < len(names) && names[i] != "" {
		return names[i]
	}
	return fmt.Sprintf("#%d", i)
}

func writeBuiltinDoc(b *strings.Builder, word string) bool {
	if arity, ok := vm.IntrinsicArity(word); ok {
		fmt.Fprintf(b, "**%s** intrinsic, %d arguments\n\nCalls back into Atlas code.", word, arity)
		return true
	}
	if bi, ok := stdlib.Lookup(word); ok {
		if bi.Arity < 0 {
			fmt.Fprintf(b, "**%s** builtin, variadic", word)
		} else {
			fmt.Fprintf(b, "**%s** builtin, %d arguments", word, bi.Arity)
		}
		return true
	}
	if c, ok := stdlib.Constant(word); ok {
		fmt.Fprintf(b, "**%s** = `%s`", word, c.Inspect())
		return true
	}
	return false
}

func (d *document) complete(prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	add := func(label, detail string, kind protocol.CompletionItemKind) {
		items = append(items, protocol.CompletionItem{
			Label:      label,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &label,
		})
	}

	if strings.HasPrefix(prefix, ".") {
		for _, name := range sortedKeys(directiveDocs) {
			if strings.HasPrefix(name, prefix) {
				add(name, "directive", protocol.CompletionItemKindKeyword)
			}
		}
		return items
	}

	upper := strings.ToUpper(prefix)
	for _, op := range bytecode.AllOpcodes() {
		if name := op.String(); strings.HasPrefix(name, upper) {
			add(name, "instruction", protocol.CompletionItemKindOperator)
		}
	}

	if d.prog != nil {
		for _, name := range sortedKeys(d.prog.Functions) {
			if strings.HasPrefix(name, prefix) {
				add(name, "function", protocol.CompletionItemKindFunction)
			}
		}
		for _, name := range sortedKeys(d.prog.Constants) {
			if strings.HasPrefix(name, prefix) {
				add(name, "constant", protocol.CompletionItemKindConstant)
			}
		}
		for _, name := range sortedKeys(d.prog.Labels) {
			if strings.HasPrefix(name, prefix) {
				add(name, "label", protocol.CompletionItemKindReference)
			}
		}
	}

	for _, name := range vm.IntrinsicNames() {
		if strings.HasPrefix(name, prefix) {
			add(name, "intrinsic", protocol.CompletionItemKindFunction)
		}
	}
	for _, name := range stdlib.Names() {
		if strings.HasPrefix(name, prefix) {
			add(name, "builtin", protocol.CompletionItemKindFunction)
		}
	}

	// Limit results
	const maxItems = 100
	if len(items) > maxItems {
		items = items[:maxItems]
	}

	return items
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// definition returns the line that defines a label, function or named
// constant.
func (d *document) definition(uri protocol.DocumentUri, word string) *protocol.Location {
	if d.prog == nil {
		return nil
	}
	for _, table := range []map[string]asm.Symbol{d.prog.Labels, d.prog.Functions, d.prog.Constants} {
		if sym, ok := table[word]; ok {
			return &protocol.Location{URI: uri, Range: d.lineRange(sym.Line)}
		}
	}
	return nil
}

// references finds every whole-word use of word outside comments and
// string literals.
func (d *document) references(uri protocol.DocumentUri, word string) []protocol.Location {
	var locations []protocol.Location
	for i, line := range d.lines {
		for _, col := range wordColumns(codePart(line), word) {
			locations = append(locations, protocol.Location{
				URI: uri,
				Range: protocol.Range{
					Start: protocol.Position{Line: protocol.UInteger(i), Character: protocol.UInteger(col)},
					End:   protocol.Position{Line: protocol.UInteger(i), Character: protocol.UInteger(col + len(word))},
				},
			})
		}
	}
	return locations
}

// codePart blanks out string literals and drops the comment of a line,
// keeping byte columns intact.
func codePart(line string) string {
	b := []byte(line)
	inString := false
	for i := 0; i < len(b); i++ {
		switch {
		case inString && b[i] == '\\' && i+1 < len(b):
			b[i], b[i+1] = ' ', ' '
			i++
		case b[i] == '"':
			inString = !inString
		case inString:
			b[i] = ' '
		case b[i] == ';':
			return string(b[:i])
		}
	}
	return string(b)
}

func wordColumns(line, word string) []int {
	var cols []int
	for from := 0; ; {
		i := strings.Index(line[from:], word)
		if i < 0 {
			return cols
		}
		i += from
		end := i + len(word)
		if (i == 0 || !isWordByte(line[i-1])) && (end == len(line) || !isWordByte(line[end])) {
			cols = append(cols, i)
		}
		from = end
	}
}

func isWordByte(c byte) bool {
	return isWordRune(rune(c))
}

func isWordRune(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}

// --- Text extraction helpers ---

// extractPrefix returns the word fragment before the cursor for completion.
// A leading '.' is kept so directives can be completed.
func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	// Walk backwards from cursor to find the start of the identifier
	start := col
	for start > 0 && isWordRune(rune(line[start-1])) {
		start--
	}
	if start > 0 && line[start-1] == '.' {
		start--
	}

	if start == col {
		return ""
	}

	return line[start:col]
}

// extractWord returns the full identifier under the cursor, including a
// directive's leading '.'.
func extractWord(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	// Find start
	start := col
	for start > 0 && isWordRune(rune(line[start-1])) {
		start--
	}
	if start > 0 && line[start-1] == '.' {
		start--
	}

	// Find end
	end := col
	for end < len(line) && isWordRune(rune(line[end])) {
		end++
	}

	if start == end {
		return ""
	}

	return line[start:end]
}

func boolPtr(b bool) *bool {
	return &b
}
