package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/skubed0007/nasembler/config"
	"github.com/skubed0007/nasembler/elf"
	"github.com/skubed0007/nasembler/encoder"
	"github.com/skubed0007/nasembler/parser"
)

// Version information - can be overridden at build time with:
// go build -ldflags "-X main.Version=v1.2.3"
var (
	Version = "dev"     // Version number (set by git tag at build time)
	Commit  = "unknown" // Git commit hash
	Date    = "unknown" // Build date
)

// Exit codes
const (
	exitOK           = 0
	exitAssemblyErr  = 1
	exitBadArguments = 2
	exitReadFailure  = 3
	exitWriteFailure = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		showVersion  = flag.Bool("version", false, "Show version information")
		outputFile   = flag.String("o", "", "Output file name")
		format       = flag.String("f", "elf", "Output format: elf (bin and hex are reserved)")
		verboseMode  = flag.Bool("v", false, "Verbose output")
		execute      = flag.Bool("x", false, "Execute the output after assembly")
		makeExec     = flag.Bool("e", false, "Make the output file executable (chmod +x)")
		stopOnFirst  = flag.Bool("s", false, "Stop on first error")
		silent       = flag.Bool("silent", false, "Suppress non-diagnostic output")
		parseOnly    = flag.Bool("parse-only", false, "Stop after parsing")
		tokenizeOnly = flag.Bool("tokenize-only", false, "Stop after tokenizing")
		dumpTokens   = flag.Bool("dump-tokens", false, "Print the token stream")
		dumpAST      = flag.Bool("dump-ast", false, "Print the parsed statements")
	)

	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Printf("nasembler %s (commit %s, built %s)\n", Version, Commit, Date)
		return exitOK
	}

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "error: exactly one input file is required")
		printUsage()
		return exitBadArguments
	}
	inputFile := flag.Arg(0)

	switch *format {
	case "elf":
	case "bin", "hex":
		fmt.Fprintf(os.Stderr, "error[UnsupportedFormat]: output format %q is not implemented\n", *format)
		return exitBadArguments
	default:
		fmt.Fprintf(os.Stderr, "error: unknown output format %q\n", *format)
		return exitBadArguments
	}

	// Configuration file supplies defaults; flags override
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v (using defaults)\n", err)
		cfg = config.DefaultConfig()
	}

	stop := *stopOnFirst || cfg.Assembler.StopOnFirstError
	quiet := *silent || cfg.Display.Silent
	verbose := *verboseMode || cfg.Display.Verbose
	output := *outputFile
	if output == "" {
		output = cfg.Assembler.DefaultOutput
	}
	execBit := *makeExec || cfg.Assembler.MakeExecutable

	// Input is read once into memory before parsing begins
	source, err := os.ReadFile(inputFile) // #nosec G304 -- user input path
	if err != nil {
		fmt.Fprintf(os.Stderr, "error[FileError]: cannot read %s: %v\n", inputFile, err)
		return exitReadFailure
	}

	if *tokenizeOnly || *dumpTokens {
		code := printTokens(string(source), inputFile)
		if *tokenizeOnly {
			return code
		}
	}

	p := parser.NewParser(string(source), inputFile)
	p.SetStopOnFirstError(stop)
	prog, diags := p.Parse()

	if *dumpAST {
		printAST(prog)
	}

	if *parseOnly {
		return report(diags, quiet, cfg.Display.ShowWarnings)
	}

	asm := encoder.NewAssembler(prog)
	asm.SetStopOnFirstError(stop)
	img, fatal := asm.Assemble()
	diags.Merge(asm.Errors())

	if code := report(diags, quiet, cfg.Display.ShowWarnings); code != exitOK {
		return code
	}
	if fatal != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", fatal)
		return exitAssemblyErr
	}
	if img == nil {
		return exitAssemblyErr
	}

	mode := os.FileMode(0644)
	if execBit || *execute {
		mode = 0755
	}
	writer := elf.NewWriter(img)
	if err := writer.WriteFile(output, mode); err != nil {
		fmt.Fprintf(os.Stderr, "error[ElfWriteError]: %v\n", err)
		return exitWriteFailure
	}

	if verbose && !quiet {
		printSummary(img, output)
	} else if !quiet {
		fmt.Printf("wrote %s\n", output)
	}

	if *execute {
		return runOutput(output)
	}
	return exitOK
}

// report prints collected diagnostics in source order and returns the
// exit code
func report(diags *parser.ErrorList, quiet, showWarnings bool) int {
	diags.Sort()
	if showWarnings && !quiet {
		if s := diags.PrintWarnings(); s != "" {
			fmt.Fprint(os.Stderr, s)
		}
	}
	if !diags.HasErrors() {
		return exitOK
	}
	for _, err := range diags.Errors {
		fmt.Fprint(os.Stderr, err.Error())
	}
	fmt.Fprintf(os.Stderr, "%d error(s)\n", diags.Len())
	return exitAssemblyErr
}

// printTokens dumps the token stream for --dump-tokens/--tokenize-only
func printTokens(source, filename string) int {
	lexer := parser.NewLexer(source, filename)
	for _, tok := range lexer.TokenizeAll() {
		if tok.Type == parser.TokenNewline {
			continue
		}
		fmt.Printf("%s:%d:%d\t%s\t%q\n",
			tok.Pos.Filename, tok.Pos.Line, tok.Pos.Column, tok.Type, tok.Literal)
	}
	if lexer.Errors().HasErrors() {
		fmt.Fprint(os.Stderr, lexer.Errors().Error())
		return exitAssemblyErr
	}
	return exitOK
}

// printAST dumps the parsed statement list for --dump-ast
func printAST(prog *parser.Program) {
	for _, stmt := range prog.Statements {
		fmt.Printf("%s:%d\t%s\n", stmt.Pos.Filename, stmt.Pos.Line, describeStatement(stmt))
	}
}

func describeStatement(stmt *parser.Statement) string {
	switch stmt.Kind {
	case parser.StmtSection:
		return fmt.Sprintf("section %s", stmt.Name)
	case parser.StmtGlobal:
		return fmt.Sprintf("global %s", strings.Join(stmt.Names, ", "))
	case parser.StmtExtern:
		return fmt.Sprintf("extern %s", strings.Join(stmt.Names, ", "))
	case parser.StmtLabel:
		return fmt.Sprintf("label %s (%s)", stmt.Name, stmt.Section)
	case parser.StmtData:
		return fmt.Sprintf("data unit=%d items=%d", stmt.Unit, len(stmt.Items))
	case parser.StmtReserve:
		return fmt.Sprintf("reserve unit=%d count=%d%s", stmt.Unit, stmt.Count, stmt.CountSym)
	case parser.StmtEqu:
		return fmt.Sprintf("equ %s", stmt.Name)
	case parser.StmtTimes:
		return fmt.Sprintf("times %d%s { %s }", stmt.Count, stmt.CountSym, describeStatement(stmt.Inner))
	case parser.StmtInstruction:
		ops := make([]string, len(stmt.Inst.Operands))
		for i := range stmt.Inst.Operands {
			ops[i] = describeOperand(stmt.Inst.Operands[i])
		}
		return fmt.Sprintf("%s %s", stmt.Inst.Mnemonic, strings.Join(ops, ", "))
	}
	return "empty"
}

func describeOperand(op parser.Operand) string {
	switch op.Kind {
	case parser.OpRegister:
		return op.Reg.Name
	case parser.OpImmediate:
		return fmt.Sprintf("%d", op.Value)
	case parser.OpLabel:
		return op.Sym
	case parser.OpMemory:
		return "[mem]"
	case parser.OpString:
		return fmt.Sprintf("%q", op.Bytes)
	}
	return "?"
}

// printSummary prints section and entry point details in verbose mode
func printSummary(img *encoder.Image, output string) {
	fmt.Printf("wrote %s\n", output)
	fmt.Printf("  entry point: 0x%X\n", img.Entry)
	for _, sec := range img.Sections {
		kind := "progbits"
		if sec.NoBits {
			kind = "nobits"
		}
		fmt.Printf("  %-8s base=0x%X size=%d %s\n", sec.Name, sec.Base, sec.Size, kind)
	}
}

// runOutput executes the produced binary and propagates its exit code
func runOutput(output string) int {
	path := output
	if !strings.ContainsRune(path, os.PathSeparator) {
		path = "." + string(os.PathSeparator) + path
	}
	cmd := exec.Command(path) // #nosec G204 -- runs the file we just wrote
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode()
		}
		fmt.Fprintf(os.Stderr, "error: failed to execute %s: %v\n", output, err)
		return exitWriteFailure
	}
	return exitOK
}

func printUsage() {
	name := filepath.Base(os.Args[0])
	fmt.Fprintf(os.Stderr, `Usage: %s [options] input.asm

x86-64 assembler producing statically linked Linux ELF64 executables.

Options:
  -o FILE          output file (default from config, normally a.out)
  -f FORMAT        output format: elf (bin and hex are reserved)
  -v               verbose output
  -x               execute the output after assembly
  -e               make the output executable (chmod +x)
  -s               stop on first error
  -silent          suppress non-diagnostic output
  -parse-only      stop after parsing
  -tokenize-only   stop after tokenizing
  -dump-tokens     print the token stream
  -dump-ast        print the parsed statements
  -version         show version information

Exit codes: 0 success, 1 assembly errors, 2 bad arguments,
3 input read failure, 4 output write failure.
`, name)
}
