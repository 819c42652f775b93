// Package cli holds the small set of terminal-interaction helpers
// capsulectl's subcommands share: a fatal-on-error wrapper for plumbing
// library errors straight to the operator, a required-value prompt used when
// a flag such as -guid or -payload was left unset, and a yes/no confirmation
// gating destructive operations (install, apply-dbx, cleanup). Setting -yes
// answers every yes/no prompt with its default instead of blocking, so the
// tool can run unattended from a provisioning script; a required-value
// prompt under -yes exits with an error, since there is no default to use.
package cli

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"
)

// MultiFlag allows a flag to be specified multiple times.
type MultiFlag []string

func (m *MultiFlag) String() string     { return strings.Join(*m, ",") }
func (m *MultiFlag) Set(v string) error { *m = append(*m, v); return nil }

//nolint:gochecknoglobals
var (
	// YesFlag enables automatic yes to prompts.
	YesFlag bool

	reader = bufio.NewReader(os.Stdin)
)

// Must logs a fatal error if err is not nil.
func Must(msg string, err error) {
	if err != nil {
		log.Fatalf("%s: %v", msg, err)
	}
}

// AskRequired prompts for required input (cannot be empty).
//
//nolint:forbidigo
func AskRequired(msg string) string {
	if YesFlag {
		log.Fatalf("missing required input for: %s (cannot auto-fill)", msg)
	}
	for {
		fmt.Printf("%s: ", msg)
		t, _ := reader.ReadString('\n')
		t = strings.TrimSpace(t)
		if t != "" {
			return t
		}
	}
}

// AskYesNo prompts for a yes/no answer with a default.
//
//nolint:forbidigo
func AskYesNo(msg string, def bool) bool {
	if YesFlag {
		fmt.Printf("%s [%s]: %v\n", msg, map[bool]string{true: "yes", false: "no"}[def], def)
		return def
	}
	defStr := "yes"
	if !def {
		defStr = "no"
	}
	for {
		fmt.Printf("%s [%s]: ", msg, defStr)
		in, _ := reader.ReadString('\n')
		in = strings.TrimSpace(strings.ToLower(in))
		if in == "" {
			return def
		}
		if in == "y" || in == "yes" {
			return true
		}
		if in == "n" || in == "no" {
			return false
		}
		fmt.Println("Please answer 'yes' or 'no'.")
	}
}
