// Command shaderc compiles WGSL programs to SPIR-V and prints the layouts reflected from the result.
// The stage is taken from the file name: names containing ".vert" are vertex programs and names
// containing ".frag" are fragment programs.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/Carmen-Shannon/oxy-rendercore/common"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/renderer/shader"
)

func main() {
	var (
		in      string
		out     string
		pad     bool
		report  bool
		verbose bool
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [-v] [-report] -in <file|dir> -out <dir>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.StringVar(&in, "in", "", "WGSL `file` or directory of .wgsl files to compile")
	flag.StringVar(&out, "out", "./out", "Path to output `directory`")
	flag.BoolVar(&pad, "pad", false, "Reflect empty uniform blocks with a 16 byte size")
	flag.BoolVar(&report, "report", false, "Print the reflected blocks, resources and inputs")
	flag.BoolVar(&verbose, "v", false, "Be verbose")
	flag.Parse()

	if in == "" || len(flag.Args()) != 0 {
		flag.Usage()
		os.Exit(2)
	}

	level := "info"
	if verbose {
		level = "debug"
	}
	logger := common.NewLogger("shaderc", level)

	sources, err := collect(in)
	if err != nil {
		logger.Fatal("couldn't list sources", "in", in, "err", err)
	}
	if len(sources) == 0 {
		logger.Fatal("no .wgsl files found", "in", in)
	}
	if err := os.MkdirAll(out, 0o777); err != nil {
		logger.Fatal("couldn't create output directory", "out", out, "err", err)
	}

	failed := 0
	for _, path := range sources {
		stage, ok := stageOf(path)
		if !ok {
			logger.Warn("skipping file without a .vert or .frag stage marker", "file", path)
			continue
		}
		logger.Debug("compiling", "file", path, "stage", stage)

		p, err := shader.LoadProgram(filepath.Base(path), stage, path, shader.WithEmptyBlockPadding(pad))
		if err != nil {
			logger.Error("compile failed", "file", path, "err", err)
			failed++
			continue
		}

		dst := filepath.Join(out, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))+".spv")
		if err := os.WriteFile(dst, p.Binary(), 0o666); err != nil {
			logger.Error("write failed", "file", dst, "err", err)
			failed++
			continue
		}
		logger.Info("compiled", "file", path, "out", dst, "bytes", len(p.Binary()))

		if report {
			printReflection(os.Stdout, p)
		}
	}

	if failed > 0 {
		logger.Fatal("compilation finished with errors", "failed", failed)
	}
}

// collect returns in itself when it is a file, or the .wgsl files directly inside it when it is a directory.
func collect(in string) ([]string, error) {
	info, err := os.Stat(in)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{in}, nil
	}
	return filepath.Glob(filepath.Join(in, "*.wgsl"))
}

func stageOf(path string) (shader.Stage, bool) {
	name := strings.ToLower(filepath.Base(path))
	switch {
	case strings.Contains(name, ".vert"):
		return shader.StageVertex, true
	case strings.Contains(name, ".frag"):
		return shader.StageFragment, true
	}
	return 0, false
}

func printReflection(w io.Writer, p shader.Program) {
	r := p.Reflection()
	fmt.Fprintf(w, "%s (%s, entry %s)\n", p.Key(), r.Stage, r.EntryPoint)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i, b := range r.Blocks {
		fmt.Fprintf(tw, "  block %d\t%s\tgroup %d binding %d\t%d bytes\n", i, b.Name, b.Group, b.Binding, b.Size)
		for _, v := range b.Variables {
			fmt.Fprintf(tw, "    \t%s\toffset %d\t%d bytes\n", v.Name, v.Offset, v.Size)
		}
	}
	for _, res := range r.Resources {
		fmt.Fprintf(tw, "  %s\t%s\tgroup %d binding %d\t\n", res.Kind, res.Name, res.Group, res.Binding)
	}
	for _, in := range r.Inputs {
		fmt.Fprintf(tw, "  input %d\t%s\t%d components\t%d bytes\n", in.Location, in.Name, in.Components, in.Size)
	}
	tw.Flush()
}
