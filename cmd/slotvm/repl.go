package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/chazu/slotvm/compiler"
	"github.com/chazu/slotvm/pkg/bytecode"
	"github.com/chazu/slotvm/pkg/exec"
)

const (
	historyFile = ".slotvm_history"
	prompt      = "slotvm> "
)

const replHelp = `Lines are added to the program buffer.
  :run      assemble and run the buffer
  :dis      show the disassembly
  :list     show the buffer
  :scopes   show the bindings left by the last run
  :reset    clear the buffer
  :quit     exit
`

// session is the REPL state, separate from the terminal for testing.
type session struct {
	lines []string
	opts  exec.Options
	out   io.Writer
	last  *exec.Executor
}

func runREPL(opts exec.Options) int {
	fmt.Printf("slotvm %s. Type :help for commands.\n", version)

	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)
	ln.SetCompleter(complete)

	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	s := &session{opts: opts, out: os.Stdout}
	for {
		line, err := ln.Prompt(prompt)
		if errors.Is(err, liner.ErrPromptAborted) {
			continue
		}
		if err != nil {
			fmt.Println()
			return 0
		}
		if strings.TrimSpace(line) != "" {
			ln.AppendHistory(line)
		}
		if !s.handle(line) {
			return 0
		}
	}
}

// complete offers instruction names and REPL commands.
func complete(line string) []string {
	var out []string
	if strings.HasPrefix(line, ":") {
		for _, c := range []string{":run", ":dis", ":list", ":scopes", ":reset", ":quit", ":help"} {
			if strings.HasPrefix(c, line) {
				out = append(out, c)
			}
		}
		return out
	}
	upper := strings.ToUpper(line)
	for _, m := range bytecode.Mnemonics() {
		if strings.HasPrefix(m, upper) {
			out = append(out, m+" ")
		}
	}
	return out
}

// handle processes one input line. It returns false to quit.
func (s *session) handle(line string) bool {
	cmd := strings.TrimSpace(line)
	if !strings.HasPrefix(cmd, ":") {
		if !compiler.IsComment(cmd) {
			s.lines = append(s.lines, line)
		}
		return true
	}

	switch strings.ToLower(cmd) {
	case ":quit", ":q":
		return false
	case ":run":
		s.run()
	case ":dis":
		if stream, err := s.assemble(); err == nil {
			fmt.Fprint(s.out, stream.DisassembleTable())
		}
	case ":list":
		for i, l := range s.lines {
			fmt.Fprintf(s.out, "%3d  %s\n", i+1, l)
		}
	case ":scopes":
		if s.last == nil {
			fmt.Fprintln(s.out, "nothing has run yet")
			break
		}
		fmt.Fprint(s.out, s.last.Scopes().Dump())
	case ":reset":
		s.lines = nil
		s.last = nil
	case ":help":
		fmt.Fprint(s.out, replHelp)
	default:
		fmt.Fprintf(s.out, "unknown command %s. Type :help for commands.\n", cmd)
	}
	return true
}

// assemble translates the buffer, adding START ahead of it when the
// buffer has none. Errors are printed.
func (s *session) assemble() (*bytecode.Stream, error) {
	t := compiler.NewTranslator()
	if !s.hasStart() {
		t.Line(0, "START")
	}
	for i, l := range s.lines {
		t.Line(i+1, l)
	}
	prog, err := t.Finish()
	if err != nil {
		var list compiler.ErrorList
		if errors.As(err, &list) {
			reportErrors(s.out, "repl", list)
		} else {
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
		return nil, err
	}
	return prog.Stream, nil
}

func (s *session) hasStart() bool {
	for _, l := range s.lines {
		if f := strings.Fields(l); len(f) > 0 && f[0] == "START" {
			return true
		}
	}
	return false
}

func (s *session) run() {
	stream, err := s.assemble()
	if err != nil {
		return
	}
	opts := s.opts
	if opts.Stdout == nil {
		opts.Stdout = s.out
	}
	s.last = exec.New(stream, opts)
	if err := s.last.Run(context.Background()); err != nil {
		fmt.Fprintf(s.out, "\nerror: %v\n", err)
		return
	}
	fmt.Fprintln(s.out)
}
