// Package prompt reads answers to line-oriented questions.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
)

// ErrClosed is returned when the input ends before an answer was read.
var ErrClosed = errors.New("input closed")

// Prompter asks questions on out and reads answers from in.
type Prompter struct {
	scanner *bufio.Scanner
	out     io.Writer
}

// New returns a Prompter over in and out.
func New(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{scanner: bufio.NewScanner(in), out: out}
}

// Line prints label and returns the trimmed answer, possibly empty.
func (p *Prompter) Line(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	if !p.scanner.Scan() {
		if err := p.scanner.Err(); err != nil {
			return "", err
		}
		return "", ErrClosed
	}
	return strings.TrimSpace(p.scanner.Text()), nil
}

// Default is Line with a value used when the answer is empty.
func (p *Prompter) Default(label, def string) (string, error) {
	if def == "" {
		return p.Line(label)
	}
	v, err := p.Line(fmt.Sprintf("%s [%s]", label, def))
	if err != nil || v != "" {
		return v, err
	}
	return def, nil
}

// Required repeats the question until a non-empty answer is given.
func (p *Prompter) Required(label string) (string, error) {
	for {
		v, err := p.Line(label)
		if err != nil || v != "" {
			return v, err
		}
		fmt.Fprintln(p.out, "This field is required.")
	}
}

// Choice repeats the question until the answer is one of options.
func (p *Prompter) Choice(label string, options []string) (string, error) {
	q := fmt.Sprintf("%s (%s)", label, strings.Join(options, "/"))
	for {
		v, err := p.Line(q)
		if err != nil {
			return "", err
		}
		if slices.Contains(options, v) {
			return v, nil
		}
		fmt.Fprintf(p.out, "Please choose one of: %s\n", strings.Join(options, ", "))
	}
}

// Confirm asks a yes/no question; anything but y or yes is no.
func (p *Prompter) Confirm(label string) (bool, error) {
	v, err := p.Line(label + " [y/N]")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(v) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

// Printf writes to the prompter's output.
func (p *Prompter) Printf(format string, args ...any) {
	fmt.Fprintf(p.out, format, args...)
}
