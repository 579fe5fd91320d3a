package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

var errPassphraseMismatch = errors.New("passphrases do not match")

// readPassphrase prompts on stderr and reads a passphrase without echo.
// WSUNDO_PASSPHRASE is used when stdin is not a terminal.
func readPassphrase(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		if p := os.Getenv("WSUNDO_PASSPHRASE"); p != "" {
			return p, nil
		}
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

// readNewPassphrase asks for a passphrase twice.
func readNewPassphrase() (string, error) {
	first, err := readPassphrase("New passphrase: ")
	if err != nil {
		return "", err
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return first, nil
	}
	second, err := readPassphrase("Repeat passphrase: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", errPassphraseMismatch
	}
	return first, nil
}
