package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/atlas-lang/atlas/manifest"
	"github.com/atlas-lang/atlas/pkg/bytecode"
	"github.com/atlas-lang/atlas/pkg/value"
	"github.com/atlas-lang/atlas/profstore"
	"github.com/atlas-lang/atlas/stdlib"
	"github.com/atlas-lang/atlas/vm"
)

const defaultProfileDB = ".atlas/profiles.db"

type runFlags struct {
	profile   bool
	debug     bool
	trace     bool
	breaks    string
	allow     string
	maxFrames int
	db        string
	top       int
}

// handleRunCommand processes `atlas run`.
// Usage:
//
//	atlas run prog.atasm
//	atlas run -debug -break 12,40 prog.atasm
//	atlas run -profile          # manifest entry
func handleRunCommand(args []string) error {
	var f runFlags
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	fs.BoolVar(&f.profile, "profile", false, "Profile the run and store the report")
	fs.BoolVar(&f.debug, "debug", false, "Start the interactive debugger")
	fs.BoolVar(&f.trace, "trace", false, "Print each top-level instruction to stderr")
	fs.StringVar(&f.breaks, "break", "", "Comma-separated breakpoint offsets (with -debug)")
	fs.StringVar(&f.allow, "allow", "", "Comma-separated capabilities to grant (io, ffi, *)")
	fs.IntVar(&f.maxFrames, "max-frames", 0, "Maximum call depth")
	fs.StringVar(&f.db, "db", "", "Profile database (default: manifest setting or "+defaultProfileDB+")")
	fs.IntVar(&f.top, "top", 0, "Hot offsets to keep in the profile report")
	fs.Parse(args)

	m, err := loadManifest()
	if err != nil {
		return err
	}

	var path string
	switch {
	case fs.NArg() > 0:
		path = fs.Arg(0)
	case m != nil:
		path = m.EntryPath()
	default:
		return fmt.Errorf("no program given and no atlas.toml found")
	}
	bc, err := loadProgram(path)
	if err != nil {
		return err
	}

	policy := stdlib.DenyAll()
	if m != nil {
		policy = m.Policy()
	}
	if f.allow != "" {
		policy = stdlib.NewPolicy(strings.Split(f.allow, ",")...)
	}

	opts := []vm.Option{vm.WithContext(stdlib.NewContext(policy, os.Stdout))}
	if m != nil {
		opts = append(opts, m.VMOptions()...)
	}
	if f.maxFrames > 0 {
		opts = append(opts, vm.WithMaxFrames(f.maxFrames))
	}

	var profiler *vm.Profiler
	if f.profile || (m != nil && m.Profile.Enabled) {
		profiler = vm.NewProfiler()
		opts = append(opts, vm.WithProfiler(profiler))
	}
	if !f.debug && (f.trace || (m != nil && m.VM.Trace)) {
		opts = append(opts, vm.WithDebugger(&tracer{bc: bc, w: os.Stderr}))
	}

	var result value.Value
	if f.debug {
		s := vm.NewDebugSession(bc, opts...)
		if err := loadExterns(s.VM(), m); err != nil {
			return err
		}
		if err := setBreakpoints(s.Debugger(), m, f.breaks); err != nil {
			return err
		}
		result, err = debugREPL(s, m, os.Stdin, os.Stdout)
	} else {
		machine := vm.New(bc, opts...)
		if err := loadExterns(machine, m); err != nil {
			return err
		}
		result, err = machine.Run()
	}

	if profiler != nil {
		if perr := saveProfile(profiler, bc, path, m, f); perr != nil {
			fmt.Fprintf(os.Stderr, "Warning: profile not saved: %v\n", perr)
		}
	}
	if err != nil {
		return err
	}
	if !result.IsNull() {
		fmt.Println(result.Inspect())
	}
	return nil
}

func loadExterns(machine *vm.VM, m *manifest.Manifest) error {
	if m == nil || len(m.Externs) == 0 {
		return nil
	}
	decls, err := m.ExternDecls()
	if err != nil {
		return err
	}
	return machine.LoadExterns(hostLibraries(), decls)
}

func setBreakpoints(d *vm.Debugger, m *manifest.Manifest, list string) error {
	if m != nil {
		for _, off := range m.Debug.Breakpoints {
			d.SetBreakpoint(off)
		}
	}
	for _, s := range strings.Split(list, ",") {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		off, err := parseOffset(s)
		if err != nil {
			return fmt.Errorf("bad breakpoint %q: %w", s, err)
		}
		d.SetBreakpoint(off)
	}
	return nil
}

// parseOffset accepts decimal or 0x-prefixed hex, the form the
// disassembler prints.
func parseOffset(s string) (int, error) {
	n, err := strconv.ParseInt(s, 0, 32)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative offset")
	}
	return int(n), nil
}

func saveProfile(p *vm.Profiler, bc *bytecode.Bytecode, program string, m *manifest.Manifest, f runFlags) error {
	top := f.top
	if top == 0 && m != nil {
		top = m.Profile.Top
	}
	if top == 0 {
		top = 10
	}
	report := p.Report(bc, top)
	report.Program = filepath.Base(program)
	printReport(os.Stderr, report)

	db := f.db
	switch {
	case db != "":
	case m != nil:
		db = m.ProfileDBPath()
	default:
		db = defaultProfileDB
	}
	store, err := profstore.Open(db)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Save(context.Background(), report)
}

// ---------------------------------------------------------------------------
// Tracing
// ---------------------------------------------------------------------------

// tracer prints every top-level instruction before it runs.
type tracer struct {
	bc *bytecode.Bytecode
	w  io.Writer
}

func (t *tracer) BeforeInstruction(ip int, _ bytecode.Opcode, depth int) vm.DebugAction {
	line, _ := t.bc.DisassembleInstruction(ip)
	fmt.Fprintf(t.w, "%04X %s%s\n", ip, strings.Repeat("  ", max(depth-1, 0)), line)
	return vm.DebugContinue
}

// ---------------------------------------------------------------------------
// Interactive debugger
// ---------------------------------------------------------------------------

const debugHelp = `Commands:
  c          continue
  s          step into
  n          step over
  o          step out
  b OFFSET   set a breakpoint
  d OFFSET   delete a breakpoint
  bl         list breakpoints
  p          print frames, locals and globals
  q          quit
An empty line repeats the configured step (step over by default).`

// debugREPL stops before the first instruction and then reads commands
// until the program ends, faults or the user quits.
func debugREPL(s *vm.DebugSession, m *manifest.Manifest, in io.Reader, out io.Writer) (value.Value, error) {
	defaultStep := "n"
	if m != nil {
		switch m.StepMode() {
		case vm.StepInto:
			defaultStep = "s"
		case vm.StepOut:
			defaultStep = "o"
		}
	}

	fmt.Fprintf(out, "Atlas debugger, session %s (type 'h' for help)\n", s.ID)
	s.Debugger().RequestPause()
	if _, err := s.VM().Run(); err != nil {
		return value.Null(), err
	}

	scanner := bufio.NewScanner(in)
	for !s.VM().Done() {
		printStop(out, s)
		fmt.Fprint(out, "(atlas) ")
		if !scanner.Scan() {
			return value.Null(), nil
		}
		fields := strings.Fields(scanner.Text())
		cmd := defaultStep
		if len(fields) > 0 {
			cmd = fields[0]
		}

		var err error
		switch cmd {
		case "c", "continue":
			_, err = s.Continue()
		case "s", "step":
			_, err = s.StepInto()
		case "n", "next":
			_, err = s.StepOver()
		case "o", "out":
			_, err = s.StepOut()
		case "b", "d":
			if len(fields) != 2 {
				fmt.Fprintf(out, "usage: %s OFFSET\n", cmd)
				continue
			}
			off, perr := parseOffset(fields[1])
			if perr != nil {
				fmt.Fprintf(out, "bad offset: %v\n", perr)
				continue
			}
			if cmd == "b" {
				s.Debugger().SetBreakpoint(off)
			} else {
				s.Debugger().ClearBreakpoint(off)
			}
			continue
		case "bl":
			for _, off := range s.Debugger().Breakpoints() {
				fmt.Fprintf(out, "  %04X\n", off)
			}
			continue
		case "p", "print":
			printSnapshot(out, s.Snapshot())
			continue
		case "h", "help":
			fmt.Fprintln(out, debugHelp)
			continue
		case "q", "quit":
			return value.Null(), nil
		default:
			fmt.Fprintf(out, "unknown command %q\n", cmd)
			continue
		}
		if err != nil {
			return value.Null(), err
		}
	}
	return s.VM().Run()
}

func printStop(out io.Writer, s *vm.DebugSession) {
	snap := s.Snapshot()
	fmt.Fprintf(out, "%04X  %s", snap.IP, snap.Instruction)
	if snap.Span != bytecode.NoSpan {
		fmt.Fprintf(out, "  ; line %d:%d", snap.Span.Line, snap.Span.Column)
	}
	fmt.Fprintf(out, "  [depth %d]\n", len(snap.Frames))
}

func printSnapshot(out io.Writer, snap *vm.Snapshot) {
	for i := len(snap.Frames) - 1; i >= 0; i-- {
		fr := snap.Frames[i]
		fmt.Fprintf(out, "#%d %s (base %d)\n", i, fr.Function, fr.StackBase)
		for j, l := range fr.Locals {
			fmt.Fprintf(out, "    local %d = %s\n", j, l)
		}
		for j, u := range fr.Upvalues {
			fmt.Fprintf(out, "    upvalue %d = %s\n", j, u)
		}
	}
	names := make([]string, 0, len(snap.Globals))
	for name := range snap.Globals {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %s = %s\n", name, snap.Globals[name])
	}
}
