// slotvm CLI - assembles, inspects and runs slotvm programs
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/tebeka/atexit"
	"github.com/tliron/commonlog"

	"github.com/chazu/slotvm/compiler"
	"github.com/chazu/slotvm/manifest"
	"github.com/chazu/slotvm/pkg/bytecode"
	"github.com/chazu/slotvm/pkg/exec"
	"github.com/chazu/slotvm/server"

	_ "github.com/tliron/commonlog/simple"
)

const version = "0.1.0"

var log = commonlog.GetLogger("slotvm.cli")

func main() {
	output := flag.String("o", "", "Assemble only and write the image to `file`")
	disasm := flag.Bool("d", false, "Print the disassembly instead of running")
	trace := flag.Bool("trace", false, "Log every dispatched instruction")
	maxSteps := flag.Int("max-steps", 0, "Abort after `N` executed instructions (0 = unlimited)")
	verbose := flag.Bool("v", false, "Verbose output")
	interactive := flag.Bool("i", false, "Start interactive REPL")
	lspMode := flag.Bool("lsp", false, "Run the language server on stdio")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: slotvm [options] [program.sasm|program.svmc]\n\n")
		fmt.Fprintf(os.Stderr, "Assembles and runs a slotvm program. Without a program argument the\n")
		fmt.Fprintf(os.Stderr, "entry of the nearest %s is used.\n\n", manifest.FileName)
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  slotvm hello.sasm              # Assemble and run\n")
		fmt.Fprintf(os.Stderr, "  slotvm -o hello.svmc hello.sasm # Write an image\n")
		fmt.Fprintf(os.Stderr, "  slotvm -d hello.svmc           # Disassemble an image\n")
		fmt.Fprintf(os.Stderr, "  slotvm -i                      # Start REPL\n")
	}
	flag.Parse()

	cfg, err := manifest.FindAndLoad(".")
	if err != nil {
		fail(err)
	}
	if cfg == nil {
		cfg = &manifest.Manifest{}
	}

	// Flags override the manifest.
	verbosity := cfg.Log.Verbosity
	if *verbose {
		verbosity = max(verbosity, 1)
	}
	if *trace || cfg.Run.Trace {
		verbosity = max(verbosity, 2)
	}
	var logPath *string
	if p := cfg.LogPath(); p != "" {
		logPath = &p
	}
	commonlog.Configure(verbosity, logPath)

	opts := exec.Options{
		Trace:    *trace || cfg.Run.Trace,
		MaxSteps: cfg.Run.MaxSteps,
	}
	if *maxSteps > 0 {
		opts.MaxSteps = *maxSteps
	}

	if *lspMode {
		if err := server.NewLSP(version).Run(); err != nil {
			fail(err)
		}
		atexit.Exit(0)
	}

	if *interactive {
		atexit.Exit(runREPL(opts))
	}

	path := flag.Arg(0)
	if path == "" && cfg.Dir != "" {
		path = cfg.EntryPath()
		log.Infof("running %s from %s", cfg.Project.Name, path)
	}
	if path == "" {
		flag.Usage()
		atexit.Exit(2)
	}

	stream, fromImage, err := load(path)
	if err != nil {
		fail(err)
	}

	if *output != "" {
		if err := writeImage(stream, *output); err != nil {
			fail(err)
		}
		atexit.Exit(0)
	}

	// A manifest run also refreshes the configured image.
	if out := cfg.ImagePath(); flag.Arg(0) == "" && out != "" && !fromImage {
		if err := writeImage(stream, out); err != nil {
			fail(err)
		}
	}

	if *disasm {
		fmt.Print(stream.DisassembleTable())
		atexit.Exit(0)
	}

	if p := cfg.StdinPath(); p != "" {
		f, err := os.Open(p)
		if err != nil {
			fail(err)
		}
		atexit.Register(func() { f.Close() })
		opts.Stdin = f
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	atexit.Register(stop)

	if err := exec.Run(ctx, stream, opts); err != nil {
		fail(err)
	}
	atexit.Exit(0)
}

// load reads an image or assembles a source file. It reports whether
// the stream came from an image.
func load(path string) (*bytecode.Stream, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	if bytecode.IsImage(data) {
		log.Debugf("loading image %s", path)
		stream, err := bytecode.ReadImageFile(path)
		return stream, true, err
	}

	prog, err := compiler.Compile(string(data))
	if err != nil {
		var list compiler.ErrorList
		if errors.As(err, &list) {
			reportErrors(os.Stderr, path, list)
			return nil, false, fmt.Errorf("%s: %d error(s)", path, len(list))
		}
		return nil, false, err
	}
	return prog.Stream, false, nil
}

func reportErrors(w io.Writer, path string, list compiler.ErrorList) {
	for _, e := range list {
		if e.Column > 0 {
			fmt.Fprintf(w, "%s:%d:%d: %s\n", path, e.Line, e.Column, e.Msg)
		} else {
			fmt.Fprintf(w, "%s:%d: %s\n", path, e.Line, e.Msg)
		}
	}
}

func writeImage(stream *bytecode.Stream, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("cannot create %s: %w", dir, err)
		}
	}
	if err := stream.WriteImageFile(path); err != nil {
		return err
	}
	log.Infof("wrote %s (%d instructions)", path, stream.InstructionCount())
	return nil
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	atexit.Exit(1)
}
