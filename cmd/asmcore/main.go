// Command asmcore is a thin driver over the asmcore core packages. There
// is no textual assembly front end in this module (parsing concrete
// syntax is out of scope per the core's own design: package object only
// specifies the Arch/ObjFmt contracts, not a lexer/parser), so the one
// thing this binary can build is a small canned demo object that
// exercises every pass -- Finalize, Optimize, Output -- against the
// archtest architecture and either the flat-binary or ELF64 object
// format. It exists so the core is reachable as a real program, not just
// as a test harness, wrapping the pass sequence behind a
// build/help/version subcommand set.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/xyproto/env/v2"
)

const versionString = "asmcore 0.1.0"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "asmcore:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return cmdHelp()
	}

	switch args[0] {
	case "build":
		return cmdBuild(args[1:])
	case "help", "--help", "-h":
		return cmdHelp()
	case "version", "--version", "-V":
		fmt.Println(versionString)
		return nil
	default:
		return fmt.Errorf("unknown command: %s\n\nRun 'asmcore help' for usage information", args[0])
	}
}

// buildFlags holds the flags cmdBuild accepts, with defaults pulled from
// the environment the way a -arch/-os flag pair layers over
// GOARCH/GOOS-style env vars.
type buildFlags struct {
	output  string
	format  string
	verbose bool
	quiet   bool
}

func parseBuildFlags(args []string) (*buildFlags, error) {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	bf := &buildFlags{
		output:  env.Str("ASMCORE_OUTPUT", "a.out"),
		format:  env.Str("ASMCORE_FORMAT", "bin"),
		verbose: env.Bool("ASMCORE_VERBOSE"),
	}
	fs.StringVar(&bf.output, "o", bf.output, "output file path")
	fs.StringVar(&bf.format, "fmt", bf.format, "object format: bin or elf")
	fs.BoolVar(&bf.verbose, "v", bf.verbose, "verbose mode (log each optimizer growth step)")
	fs.BoolVar(&bf.quiet, "q", false, "suppress the \"wrote N bytes\" summary")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return bf, nil
}

func cmdBuild(args []string) error {
	bf, err := parseBuildFlags(args)
	if err != nil {
		return err
	}

	n, err := buildDemo(bf.output, bf.format, bf.verbose)
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}
	if !bf.quiet {
		fmt.Printf("wrote %d bytes to %s\n", n, bf.output)
	}
	return nil
}

func cmdHelp() error {
	fmt.Print(`asmcore - x86 assembler core demo driver

USAGE:
    asmcore <command> [arguments]

COMMANDS:
    build [-o file] [-fmt bin|elf] [-v] [-q]   Assemble the built-in demo program
    help                                       Show this help message
    version                                    Show version information

FLAGS:
    -o <file>    Output file path (default: a.out, or $ASMCORE_OUTPUT)
    -fmt <name>  Object format: bin or elf (default: bin, or $ASMCORE_FORMAT)
    -v           Verbose mode: log each optimizer growth step to stderr
    -q           Quiet mode: suppress the byte-count summary

This binary has no assembly-text front end: package object's Arch and
ObjFmt are collaborator contracts meant to be implemented by a real
architecture and a real object format, not parsed from source here.
"build" assembles a small fixed demo program (a short/near unconditional
jump plus an Org-padded section) through the archtest architecture and
either the flat-binary or ELF64 object format, so the full
Finalize/Optimize/Output pipeline runs against a real binary, not just
in unit tests.
`)
	return nil
}
