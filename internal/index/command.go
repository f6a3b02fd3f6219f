package index

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultCommand is the command template used unless configured otherwise.
const DefaultCommand = "synoindex {arg} {}"

// ErrEmptyCommand is returned for a template without any word.
var ErrEmptyCommand = errors.New("empty index command")

// Command is an index command template. Each word of the template becomes one
// argument, placeholders are substituted per word:
//
//	{}        path of the changed entry
//	{arg}     synoindex argument (-A, -a, -D, -d)
//	{event}   event kind (created, removed, ...)
//	{base}    base name of the entry
//	{dir}     directory containing the entry
//	{""}      quoted path; {"base"} and {"dir"} likewise
type Command struct {
	template string
	words    []string
}

// ParseCommand parses a command template.
func ParseCommand(template string) (*Command, error) {
	words := strings.Fields(template)
	if len(words) == 0 {
		return nil, ErrEmptyCommand
	}
	return &Command{template: template, words: words}, nil
}

func (c *Command) String() string { return c.template }

// Argv returns the command line for a.
func (c *Command) Argv(a Action) []string {
	argv := make([]string, len(c.words))
	for i, w := range c.words {
		argv[i] = expand(w, a)
	}
	return argv
}

func expand(word string, a Action) string {
	base, dir := filepath.Base(a.Path), filepath.Dir(a.Path)

	// Quoted forms first; they contain the plain ones.
	word = strings.ReplaceAll(word, `{""}`, strconv.Quote(a.Path))
	word = strings.ReplaceAll(word, `{"base"}`, strconv.Quote(base))
	word = strings.ReplaceAll(word, `{"dir"}`, strconv.Quote(dir))

	word = strings.ReplaceAll(word, "{}", a.Path)
	word = strings.ReplaceAll(word, "{arg}", a.Arg)
	word = strings.ReplaceAll(word, "{event}", a.Kind.String())
	word = strings.ReplaceAll(word, "{base}", base)
	word = strings.ReplaceAll(word, "{dir}", dir)
	return word
}

// Runner executes a command line.
type Runner interface {
	Run(ctx context.Context, argv []string) error
}

// ExecRunner runs commands as child processes.
type ExecRunner struct{}

// Run executes argv and waits for it. The error carries whatever the command
// wrote to stderr.
func (ExecRunner) Run(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return ErrEmptyCommand
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("command error: %s: %w", msg, err)
		}
		return err
	}
	return nil
}
