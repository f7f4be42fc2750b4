package shell

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/atinyakov/gophvault/internal/client/vault"
)

// Prompter reads answers line by line from in and writes questions to out.
type Prompter struct {
	sc  *bufio.Scanner
	out io.Writer
}

// NewPrompter returns a Prompter over in and out.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{sc: bufio.NewScanner(in), out: out}
}

// ReadLine returns the next input line. ok is false at end of input.
func (p *Prompter) ReadLine() (string, bool) {
	if !p.sc.Scan() {
		return "", false
	}
	return p.sc.Text(), true
}

func (p *Prompter) ask(question string) (string, bool) {
	fmt.Fprint(p.out, question)
	line, ok := p.ReadLine()
	return strings.TrimSpace(line), ok
}

// PromptCredential asks for the fields of a new credential. An empty secret
// is replaced by a generated password, which is printed once.
func (p *Prompter) PromptCredential() (vault.NewCredential, bool) {
	var nc vault.NewCredential
	var ok bool
	if nc.Site, ok = p.ask("Enter website: "); !ok {
		return nc, false
	}
	if nc.AccountLabel, ok = p.ask("Enter account (leave empty for your login): "); !ok {
		return nc, false
	}
	if nc.Secret, ok = p.ask("Enter password (leave empty to generate): "); !ok {
		return nc, false
	}
	if nc.Secret == "" {
		pw, err := vault.Generate(vault.DefaultGenerateOptions())
		if err != nil {
			fmt.Fprintf(p.out, "Failed to generate password: %v\n", err)
			return nc, false
		}
		nc.Secret = pw
		fmt.Fprintf(p.out, "Generated password: %s\n", pw)
	}
	if nc.Category, ok = p.ask("Enter category: "); !ok {
		return nc, false
	}
	return nc, true
}

// PromptSecret asks for a new secret, either typed in or read from a file.
func (p *Prompter) PromptSecret() (string, bool) {
	path, ok := p.ask("Enter file path to load (leave empty for manual input): ")
	if !ok {
		return "", false
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(p.out, "Failed to read file %q: %v\n", path, err)
			return "", false
		}
		return strings.TrimRight(string(data), "\r\n"), true
	}
	return p.ask("Enter new password: ")
}

// PromptImport reads import text from a file, or typed lines ending with a
// line holding a single '.'.
func (p *Prompter) PromptImport() (string, bool) {
	path, ok := p.ask("Enter file path to import (leave empty to type lines, end with '.'): ")
	if !ok {
		return "", false
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(p.out, "Failed to read file %q: %v\n", path, err)
			return "", false
		}
		return string(data), true
	}

	var b strings.Builder
	for {
		line, ok := p.ReadLine()
		if !ok || strings.TrimSpace(line) == "." {
			break
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String(), true
}
