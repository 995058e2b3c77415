package passphrase

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source lazily resolves a keystore passphrase from an environment variable or by
// prompting the operator. The value is cached after the first successful retrieval.
type Source struct {
	envVar string
	label  string
	prompt func(label string) (string, error)

	once  sync.Once
	value string
	err   error
}

// NewSource constructs a source that checks envVar before prompting on the terminal
// for the keystore identified by label.
func NewSource(envVar, label string) *Source {
	return &Source{
		envVar: strings.TrimSpace(envVar),
		label:  strings.TrimSpace(label),
		prompt: promptTerminal,
	}
}

// Static returns a source that always yields value. Useful for tests and for
// passphrases already resolved by the caller.
func Static(value string) *Source {
	return &Source{prompt: func(string) (string, error) { return value, nil }}
}

// Get returns the cached passphrase or resolves it on first use. An empty
// passphrase from the terminal is accepted since local keystores are commonly
// unprotected; an environment variable that is set but blank is rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if value, ok := os.LookupEnv(s.envVar); ok {
				if strings.TrimSpace(value) == "" {
					s.err = fmt.Errorf("%s is set but empty", s.envVar)
					return
				}
				s.value = value
				return
			}
		}
		s.value, s.err = s.prompt(s.label)
		if s.err != nil && s.envVar != "" {
			s.err = fmt.Errorf("%w; set %s to supply it non-interactively", s.err, s.envVar)
		}
	})
	return s.value, s.err
}

func promptTerminal(label string) (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("keystore passphrase for %s required and no terminal available", label)
	}
	fmt.Fprintf(os.Stderr, "Enter keystore passphrase for %s: ", label)
	bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	return string(bytes), nil
}
