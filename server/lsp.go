// Package server implements a language server for slotvm assembly.
package server

import (
	"sync"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "slotvm-lsp"

var log = commonlog.GetLogger("slotvm.server")

// openDocs holds the text of every document the client has open.
type openDocs struct {
	mu   sync.Mutex
	text map[protocol.DocumentUri]string
}

func (o *openDocs) set(uri protocol.DocumentUri, text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.text[uri] = text
}

func (o *openDocs) get(uri protocol.DocumentUri) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	text, ok := o.text[uri]
	return text, ok
}

func (o *openDocs) drop(uri protocol.DocumentUri) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.text, uri)
}

// LspServer answers editor requests. Handlers run on glsp's goroutines;
// every analysis goes through the worker.
type LspServer struct {
	worker  *Worker
	docs    openDocs
	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a server with no open documents.
func NewLSP(version string) *LspServer {
	s := &LspServer{
		worker:  NewWorker(NewWorkspace()),
		docs:    openDocs{text: make(map[protocol.DocumentUri]string)},
		version: version,
	}
	s.handler = protocol.Handler{
		Initialize: s.initialize,
		Shutdown:   s.shutdown,

		TextDocumentDidOpen:   s.didOpen,
		TextDocumentDidChange: s.didChange,
		TextDocumentDidClose:  s.didClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
		TextDocumentReferences: s.textDocumentReferences,
	}
	s.server = glspserver.NewServer(&s.handler, lspName, false)
	return s
}

// Run serves on stdin/stdout until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	if params.ClientInfo != nil {
		log.Infof("initializing for %s", params.ClientInfo.Name)
	} else {
		log.Info("initializing")
	}

	caps := s.handler.CreateServerCapabilities()
	full := protocol.TextDocumentSyncKindFull
	caps.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &full,
	}
	caps.CompletionProvider = &protocol.CompletionOptions{}
	caps.HoverProvider = true
	caps.DefinitionProvider = true
	caps.ReferencesProvider = true

	return protocol.InitializeResult{
		Capabilities: caps,
		ServerInfo:   &protocol.InitializeResultServerInfo{Name: lspName, Version: &s.version},
	}, nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	log.Info("shutting down")
	s.worker.Stop()
	return nil
}

// --- Text synchronization ---

func (s *LspServer) didOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	doc := params.TextDocument
	s.docs.set(doc.URI, doc.Text)
	s.publishDiagnostics(ctx, doc.URI, doc.Text)
	return nil
}

func (s *LspServer) didChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	text, ok := wholeText(params.ContentChanges)
	if !ok {
		log.Warningf("%s: change without full text ignored", params.TextDocument.URI)
		return nil
	}
	s.docs.set(params.TextDocument.URI, text)
	s.publishDiagnostics(ctx, params.TextDocument.URI, text)
	return nil
}

// wholeText returns the newest full-document change. The server asks for
// full sync, so ranged changes are not expected.
func wholeText(changes []any) (string, bool) {
	for i := len(changes) - 1; i >= 0; i-- {
		if whole, ok := changes[i].(protocol.TextDocumentContentChangeEventWhole); ok {
			return whole.Text, true
		}
	}
	return "", false
}

func (s *LspServer) didClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI
	s.docs.drop(uri)
	if _, err := s.worker.Do(func(ws *Workspace) any {
		ws.Forget(uri)
		return nil
	}); err != nil {
		log.Debugf("%s: %s", uri, err)
	}

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

// --- Language features ---

// withDocument runs fn on the analysis of an open document. It returns
// nil for unknown documents and failed analyses.
func (s *LspServer) withDocument(uri protocol.DocumentUri, fn func(*Document) any) any {
	text, ok := s.docs.get(uri)
	if !ok {
		return nil
	}

	result, err := s.worker.Do(func(ws *Workspace) any {
		return fn(ws.Analyze(uri, text))
	})
	if err != nil {
		log.Errorf("%s: %s", uri, err)
		return nil
	}
	return result
}

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	result := s.withDocument(params.TextDocument.URI, func(d *Document) any {
		return d.Complete(params.Position)
	})
	if items, ok := result.([]protocol.CompletionItem); ok && len(items) > 0 {
		return items, nil
	}
	return nil, nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	result := s.withDocument(params.TextDocument.URI, func(d *Document) any {
		return d.Hover(params.Position)
	})
	hover, _ := result.(*protocol.Hover)
	return hover, nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	result := s.withDocument(params.TextDocument.URI, func(d *Document) any {
		return d.Definition(params.Position)
	})
	if locations, ok := result.([]protocol.Location); ok && len(locations) > 0 {
		return locations, nil
	}
	return nil, nil
}

func (s *LspServer) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	result := s.withDocument(params.TextDocument.URI, func(d *Document) any {
		return d.References(params.Position, params.Context.IncludeDeclaration)
	})
	locations, _ := result.([]protocol.Location)
	return locations, nil
}

// --- Diagnostics ---

func (s *LspServer) diagnostics(uri protocol.DocumentUri, text string) []protocol.Diagnostic {
	result, err := s.worker.Do(func(ws *Workspace) any {
		return ws.Analyze(uri, text).Diagnostics
	})
	if err != nil {
		log.Errorf("%s: %s", uri, err)
		return []protocol.Diagnostic{}
	}
	return result.([]protocol.Diagnostic)
}

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: s.diagnostics(uri, text),
	})
}

func boolPtr(b bool) *bool {
	return &b
}
