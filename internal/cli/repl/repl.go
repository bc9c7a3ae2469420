package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrUnterminatedQuote is returned for a line with an open quote.
var ErrUnterminatedQuote = errors.New("unterminated quote")

// Executor runs one command line split into arguments.
type Executor func(ctx context.Context, args []string) error

// Config configures a REPL.
type Config struct {
	In     io.Reader
	Out    io.Writer
	Prompt string

	Exec      Executor
	Completer *Completer
	History   *History
}

// REPL is the read-eval-print loop.
type REPL struct {
	input     io.Reader
	output    io.Writer
	prompt    string
	exec      Executor
	completer *Completer
	history   *History
}

// New creates a REPL.
func New(cfg Config) *REPL {
	r := &REPL{
		input:     cfg.In,
		output:    cfg.Out,
		prompt:    cfg.Prompt,
		exec:      cfg.Exec,
		completer: cfg.Completer,
		history:   cfg.History,
	}
	if r.prompt == "" {
		r.prompt = "jalsync> "
	}
	if r.completer == nil {
		r.completer = NewCompleter()
	}
	if r.history == nil {
		r.history = NewHistory("")
	}
	return r
}

// Run reads lines until EOF, exit or quit, or until ctx ends. Command
// errors are printed and the loop goes on.
func (r *REPL) Run(ctx context.Context) error {
	if err := r.history.Load(); err != nil {
		fmt.Fprintf(r.output, "warning: load history: %v\n", err)
	}
	defer func() {
		if err := r.history.Save(); err != nil {
			fmt.Fprintf(r.output, "warning: save history: %v\n", err)
		}
	}()

	reader := bufio.NewReader(r.input)
	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(r.output, r.prompt)

		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		eof := errors.Is(err, io.EOF)

		line = strings.TrimSpace(line)
		if line != "" {
			if done := r.handle(ctx, line); done {
				return nil
			}
		}
		if eof {
			fmt.Fprintln(r.output)
			return nil
		}
	}
}

// handle processes one line and reports whether the loop should end.
func (r *REPL) handle(ctx context.Context, line string) bool {
	if prefix, ok := strings.CutSuffix(line, "?"); ok {
		for _, s := range r.completer.Complete(strings.TrimSpace(prefix)) {
			fmt.Fprintln(r.output, s)
		}
		return false
	}
	r.history.Add(line)

	switch line {
	case "exit", "quit":
		return true
	case "history":
		for i, e := range r.history.Entries() {
			fmt.Fprintf(r.output, "%4d  %s\n", i+1, e)
		}
		return false
	}

	args, err := SplitArgs(line)
	if err != nil {
		fmt.Fprintf(r.output, "Error: %v\n", err)
		return false
	}
	if err := r.exec(ctx, args); err != nil {
		fmt.Fprintf(r.output, "Error: %v\n", err)
	}
	return false
}

// SplitArgs splits a line on whitespace. Single and double quotes group
// words; a backslash escapes the next character outside single quotes.
func SplitArgs(line string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)
	for _, c := range line {
		switch {
		case escaped:
			cur.WriteRune(c)
			escaped = false
		case c == '\\' && quote != '\'':
			escaped, inWord = true, true
		case quote != 0:
			if c == quote {
				quote = 0
			} else {
				cur.WriteRune(c)
			}
		case c == '"' || c == '\'':
			quote, inWord = c, true
		case c == ' ' || c == '\t':
			if inWord {
				args = append(args, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(c)
			inWord = true
		}
	}
	if quote != 0 || escaped {
		return nil, ErrUnterminatedQuote
	}
	if inWord {
		args = append(args, cur.String())
	}
	return args, nil
}
