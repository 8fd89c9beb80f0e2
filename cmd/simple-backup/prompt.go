package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/term"
)

// terminalPrompter asks for passwords and confirmations on the controlling
// terminal.
type terminalPrompter struct {
	fd  int
	in  *bufio.Reader
	out io.Writer
}

// newTerminalPrompter returns nil when stdin is not a terminal, e.g. under cron.
func newTerminalPrompter() *terminalPrompter {
	fd := int(os.Stdin.Fd()) //nolint:gosec // file descriptors fit in int
	if !term.IsTerminal(fd) {
		return nil
	}
	return &terminalPrompter{fd: fd, in: bufio.NewReader(os.Stdin), out: os.Stderr}
}

func (p *terminalPrompter) Password(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	password, err := term.ReadPassword(p.fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", errors.Wrap(err, "reading password")
	}
	return string(password), nil
}

func (p *terminalPrompter) Confirm(prompt string) (bool, error) {
	fmt.Fprintf(p.out, "%s [y/N] ", prompt)
	return readConfirmation(p.in)
}

func readConfirmation(r *bufio.Reader) (bool, error) {
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return false, errors.Wrap(err, "reading answer")
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
