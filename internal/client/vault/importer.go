package vault

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxImportChars bounds the size of an import text.
const MaxImportChars = 100000

// ErrImportTooLarge is returned for texts over MaxImportChars characters.
var ErrImportTooLarge = fmt.Errorf("import text exceeds %d characters", MaxImportChars)

// ErrImportEmpty is returned when the text holds no entries.
var ErrImportEmpty = errors.New("nothing to import")

// ImportEntry is one parsed "website:password" line.
type ImportEntry struct {
	Site     string
	Password string
	Line     int
}

// ImportProblem is a line that was not imported.
type ImportProblem struct {
	Line   int
	Reason string
}

func (p ImportProblem) String() string {
	return fmt.Sprintf("line %d: %s", p.Line, p.Reason)
}

// ImportResult counts the outcome of Import.
type ImportResult struct {
	Imported int
	Failed   int
	Problems []ImportProblem
}

// ParseImport splits text into entries. Blank lines and lines starting with
// '#' are skipped. The site is everything before the first colon, so
// passwords may contain colons.
func ParseImport(text string) ([]ImportEntry, []ImportProblem, error) {
	if utf8.RuneCountInString(text) > MaxImportChars {
		return nil, nil, ErrImportTooLarge
	}

	var (
		entries  []ImportEntry
		problems []ImportProblem
	)
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 4096), len(text)+1)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		site, password, ok := strings.Cut(line, ":")
		if !ok {
			problems = append(problems, ImportProblem{Line: n, Reason: "invalid format (missing colon)"})
			continue
		}
		site, password = strings.TrimSpace(site), strings.TrimSpace(password)
		if site == "" || password == "" {
			problems = append(problems, ImportProblem{Line: n, Reason: "empty website or password"})
			continue
		}
		entries = append(entries, ImportEntry{Site: site, Password: password, Line: n})
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("read import: %w", err)
	}
	return entries, problems, nil
}

// Import parses text and adds every entry as a pending credential whose
// account is the session identity. Parse problems and per-entry failures
// are reported in the result; one background sync runs afterwards.
func (v *Vault) Import(ctx context.Context, text string) (ImportResult, error) {
	entries, problems, err := ParseImport(text)
	if err != nil {
		return ImportResult{}, err
	}
	res := ImportResult{Problems: problems}
	if len(entries) == 0 {
		return res, ErrImportEmpty
	}

	for _, e := range entries {
		rec, err := v.seal(NewCredential{Site: e.Site, Secret: e.Password})
		if err == nil {
			_, err = v.store.Append(ctx, rec)
		}
		if err != nil {
			if serr := v.sess.Err(); serr != nil {
				return res, serr
			}
			res.Failed++
			res.Problems = append(res.Problems, ImportProblem{Line: e.Line, Reason: err.Error()})
			continue
		}
		res.Imported++
	}
	if res.Imported > 0 {
		v.kick()
	}
	return res, nil
}
