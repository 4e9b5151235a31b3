// ABOUTME: Interactive shell over the request pipeline
// ABOUTME: Commands: tools, call <server> <tool> '<json>', ask "<question>", quit

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/2389/toolgate/internal/pipeline"
)

// engine is the part of *pipeline.Engine the shell drives.
type engine interface {
	Ask(ctx context.Context, query string) *pipeline.Response
	CallTyped(ctx context.Context, server, tool string, args map[string]any) (*pipeline.TypedCall, error)
	Tools(ctx context.Context) *pipeline.ToolsView
}

const replHelp = `
Commands:
  tools
  call <server> <tool> '<json_args>'
  ask "<question>"
  quit
`

const maxLineSize = 1 << 20

func runREPL(ctx context.Context) error {
	gw, err := openGateway(ctx)
	if err != nil {
		return err
	}
	defer gw.Shutdown(context.Background())

	r := &repl{engine: gw.Engine(), in: os.Stdin, out: os.Stdout}
	return r.run(ctx)
}

type repl struct {
	engine engine
	in     io.Reader
	out    io.Writer
}

// run reads commands until quit, end of input or cancellation.
func (r *repl) run(ctx context.Context) error {
	prompt := color.New(color.FgCyan)

	fmt.Fprint(r.out, replHelp)
	fmt.Fprintln(r.out)

	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for {
		if ctx.Err() != nil {
			return nil
		}
		prompt.Fprint(r.out, "toolgate> ")
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}
		if quit := r.handle(ctx, strings.TrimSpace(scanner.Text())); quit {
			return nil
		}
	}
}

// handle executes one command line and reports whether the shell should exit.
func (r *repl) handle(ctx context.Context, line string) bool {
	switch {
	case line == "":
	case line == "quit" || line == "exit":
		return true
	case line == "tools":
		r.print(r.engine.Tools(ctx))
	case strings.HasPrefix(line, "call "):
		r.call(ctx, line)
	case strings.HasPrefix(line, "ask "):
		q := strings.TrimSpace(strings.TrimPrefix(line, "ask "))
		q = strings.Trim(q, `"'`)
		if q == "" {
			fmt.Fprintln(r.out, `Usage: ask "<question>"`)
			return false
		}
		r.print(r.engine.Ask(ctx, q))
	default:
		fmt.Fprintln(r.out, "Unknown command. Try: tools | call ... | ask ... | quit")
	}
	return false
}

func (r *repl) call(ctx context.Context, line string) {
	parts, err := splitArgs(line)
	if err != nil || len(parts) != 4 {
		fmt.Fprintln(r.out, "Usage: call <server> <tool> '<json_args>'")
		return
	}

	args, err := parseArgsObject(parts[3])
	if err != nil {
		fmt.Fprintln(r.out, err)
		return
	}

	result, err := r.engine.CallTyped(ctx, parts[1], parts[2], args)
	if err != nil {
		color.New(color.FgRed).Fprintf(r.out, "call failed: %v\n", err)
		return
	}
	r.print(result)
}

func (r *repl) print(v any) {
	if err := printJSON(r.out, v); err != nil {
		fmt.Fprintf(r.out, "encoding output: %v\n", err)
	}
}

var errUnterminatedQuote = errors.New("unterminated quote")

// splitArgs splits a command line into words using POSIX shell quoting:
// single quotes are literal, double quotes honor \" and \\, and a backslash
// outside quotes escapes the next character.
func splitArgs(line string) ([]string, error) {
	var (
		words   []string
		current strings.Builder
		inWord  bool
	)

	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == ' ' || c == '\t':
			if inWord {
				words = append(words, current.String())
				current.Reset()
				inWord = false
			}
		case c == '\'':
			inWord = true
			end := i + 1
			for end < len(runes) && runes[end] != '\'' {
				end++
			}
			if end >= len(runes) {
				return nil, errUnterminatedQuote
			}
			current.WriteString(string(runes[i+1 : end]))
			i = end
		case c == '"':
			inWord = true
			i++
			for ; i < len(runes) && runes[i] != '"'; i++ {
				if runes[i] == '\\' && i+1 < len(runes) && (runes[i+1] == '"' || runes[i+1] == '\\') {
					i++
				}
				current.WriteRune(runes[i])
			}
			if i >= len(runes) {
				return nil, errUnterminatedQuote
			}
		case c == '\\':
			inWord = true
			if i+1 < len(runes) {
				i++
				current.WriteRune(runes[i])
			}
		default:
			inWord = true
			current.WriteRune(c)
		}
	}
	if inWord {
		words = append(words, current.String())
	}
	return words, nil
}
