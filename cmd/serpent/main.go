// Command serpent is the ambient host-embedding demo for the interp
// package: a CLI that loads a precompiled module (a YAML transcription
// of a code.Object, bytecode.go's moduleFile) and runs it, plus an
// interactive REPL that loads a module, binds its declared inputs and
// runs it one Run at a time; no external functions are registered.
//
// This is explicitly demo/test tooling, not part of the core engine
// (the parser/compiler that would normally produce a module is out of
// scope): grounded on the teacher's cmd/hey entry point (flag-driven
// "run a file" / "run inline code" / "interactive shell" modes wired
// through urfave/cli/v3), generalized from PHP source text to this
// engine's compiled-module input.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/urfave/cli/v3"

	"github.com/wudi/serpent/diag"
	"github.com/wudi/serpent/heap"
	"github.com/wudi/serpent/interp"
	"github.com/wudi/serpent/values"
)

func main() {
	logger := diag.New(diag.LevelInfo, 512)
	logger.Sink = os.Stderr

	app := &cli.Command{
		Name:  "serpent",
		Usage: "Run and explore modules against the sandboxed interpreter",
		Flags: []cli.Flag{
			&cli.FloatFlag{Name: "max-duration", Usage: "wall-clock ceiling in seconds (0 = unlimited)"},
			&cli.Int64Flag{Name: "max-memory", Usage: "heap byte ceiling (0 = unlimited)"},
			&cli.IntFlag{Name: "max-recursion", Usage: "call-frame depth ceiling (0 = unlimited)"},
			&cli.StringSliceFlag{Name: "input", Aliases: []string{"i"}, Usage: "bind a top-level input: name=literal"},
		},
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "run a compiled module file once and print its result",
				ArgsUsage: "<module.yaml>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.Args().Len() != 1 {
						return fmt.Errorf("run requires exactly one module path")
					}
					return runOnce(cmd, cmd.Args().First(), logger)
				},
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() == 1 {
				return runOnce(cmd, cmd.Args().First(), logger)
			}
			return repl(cmd, logger)
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "serpent: %v\n", err)
		os.Exit(1)
	}
}

func optionsFromFlags(cmd *cli.Command) interp.Options {
	return interp.Options{
		MaxDurationSeconds: cmd.Float("max-duration"),
		MaxMemoryBytes:     cmd.Int64("max-memory"),
		MaxRecursionDepth:  int(cmd.Int("max-recursion")),
		Output:             os.Stdout,
	}
}

func runOnce(cmd *cli.Command, path string, logger *diag.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	h := heap.NewHeap()
	obj, err := loadModule(h, data)
	if err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	logger.Infof("loaded module %q (%d instructions)", obj.Qualified, len(obj.Instructions))

	opts := optionsFromFlags(cmd)
	opts.Heap = h

	it, err := interp.Construct(obj, obj.Globals, nil, opts)
	if err != nil {
		return err
	}
	defer it.Close()

	inputs, err := parseInputBindings(h, cmd.StringSlice("input"))
	if err != nil {
		return err
	}

	res, err := it.Run(inputs, nil)
	if err != nil {
		logger.Errorf("run failed: %v", err)
		return err
	}
	fmt.Println(res.Value.String())
	return nil
}

// parseInputBindings turns "--input name=literal" flags into bound
// values, accepting the handful of literal shapes a demo CLI reasonably
// needs: none, true/false, integers, floats, and bare strings (anything
// that doesn't parse as one of the former, interned against h).
func parseInputBindings(h *heap.Heap, pairs []string) (map[string]values.Value, error) {
	out := make(map[string]values.Value, len(pairs))
	for _, p := range pairs {
		name, lit, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("--input %q: expected name=value", p)
		}
		out[name] = parseLiteral(h, lit)
	}
	return out, nil
}

func parseLiteral(h *heap.Heap, lit string) values.Value {
	switch lit {
	case "None", "none":
		return values.None()
	case "True", "true":
		return values.Bool(true)
	case "False", "false":
		return values.Bool(false)
	}
	if i, err := strconv.ParseInt(lit, 10, 64); err == nil {
		return values.Int(i)
	}
	if f, err := strconv.ParseFloat(lit, 64); err == nil {
		return values.Float(f)
	}
	return h.NewString(lit)
}

// repl is the interactive loop: load a module, run it, inspect the
// result, repeat — chzyer/readline driving line editing and history the
// way a REPL needs, in place of the teacher's bare bufio.Scanner prompt.
func repl(cmd *cli.Command, logger *diag.Logger) error {
	rl, err := readline.New("serpent> ")
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Println("serpent interactive shell. Commands: load <path>, run, inputs name=lit ..., quit")
	var h *heap.Heap
	var it *interp.Interpreter
	var pendingInputs map[string]values.Value

	for {
		line, err := rl.Readline()
		if err != nil {
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "quit", "exit":
			return nil
		case "load":
			if len(fields) != 2 {
				fmt.Println("usage: load <path>")
				continue
			}
			data, err := os.ReadFile(fields[1])
			if err != nil {
				fmt.Println(err)
				continue
			}
			h = heap.NewHeap()
			obj, err := loadModule(h, data)
			if err != nil {
				fmt.Println(err)
				continue
			}
			opts := optionsFromFlags(cmd)
			opts.Heap = h
			if it != nil {
				it.Close()
			}
			it, err = interp.Construct(obj, obj.Globals, nil, opts)
			if err != nil {
				fmt.Println(err)
				continue
			}
			pendingInputs = make(map[string]values.Value)
			fmt.Printf("loaded %q\n", obj.Qualified)
		case "inputs":
			if h == nil {
				fmt.Println("no module loaded; use: load <path>")
				continue
			}
			bindings, err := parseInputBindings(h, fields[1:])
			if err != nil {
				fmt.Println(err)
				continue
			}
			pendingInputs = bindings
		case "run":
			if it == nil {
				fmt.Println("no module loaded; use: load <path>")
				continue
			}
			res, err := it.Run(pendingInputs, nil)
			if err != nil {
				logger.Errorf("run failed: %v", err)
				fmt.Println(err)
				continue
			}
			fmt.Println(res.Value.String())
		default:
			fmt.Println("unknown command:", fields[0])
		}
	}
}

