package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/sw33tLie/nstg/pkg/recipients"
)

func newTokenCmd(t *testing.T, file string) *cobra.Command {
	t.Helper()
	c := &cobra.Command{Use: "test"}
	c.Flags().StringP("file", "f", "", "")
	if file != "" {
		if err := c.Flags().Set("file", file); err != nil {
			t.Fatal(err)
		}
	}
	return c
}

func TestReadTokensFromFileThenArgs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.txt")
	if err := os.WriteFile(path, []byte("# campaign\nregion:europe\n\n+tag:wa\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tokens, err := readTokens(newTokenCmd(t, path), []string{"-nation:testlandia"})
	if err != nil {
		t.Fatalf("readTokens: %v", err)
	}
	if len(tokens) != 3 {
		t.Fatalf("got %d tokens, want 3", len(tokens))
	}
	if tokens[0].Kind != recipients.Region || tokens[0].Name != "europe" {
		t.Errorf("first token = %s", tokens[0])
	}
	if tokens[1].Filter != recipients.Include || tokens[1].Kind != recipients.Tag {
		t.Errorf("second token = %s", tokens[1])
	}
	if tokens[2].Filter != recipients.Exclude || tokens[2].Name != "testlandia" {
		t.Errorf("third token = %s", tokens[2])
	}
}

func TestReadTokensRequiresInput(t *testing.T) {
	if _, err := readTokens(newTokenCmd(t, ""), nil); err == nil {
		t.Fatal("expected an error without tokens")
	}
}

func TestReadTokensReportsBadLine(t *testing.T) {
	if _, err := readTokens(newTokenCmd(t, ""), []string{"region:europe", "tag:nope"}); err == nil {
		t.Fatal("expected a parse error for an unknown tag")
	}
}

// shellWords splits line the way a POSIX shell would for the simple cases
// used in help text: blanks separate words and single quotes group them.
func shellWords(t *testing.T, line string) []string {
	t.Helper()
	var (
		words  []string
		cur    strings.Builder
		inWord bool
		quoted bool
	)
	for _, r := range line {
		switch {
		case r == '\'':
			quoted = !quoted
			inWord = true
		case quoted:
			cur.WriteRune(r)
		case r == ';' || r == '|' || r == '&':
			t.Fatalf("%q: unquoted %q would end the command", line, r)
		case r == ' ' || r == '\t':
			if inWord {
				words = append(words, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if quoted {
		t.Fatalf("%q: unterminated quote", line)
	}
	if inWord {
		words = append(words, cur.String())
	}
	return words
}

func TestExamplesSurviveTheShell(t *testing.T) {
	for _, c := range rootCmd.Commands() {
		if c.Example == "" {
			continue
		}
		for _, line := range strings.Split(c.Example, "\n") {
			words := shellWords(t, strings.TrimSpace(line))
			if len(words) < 2 || words[0] != "nstg" || words[1] != c.Name() {
				t.Fatalf("%s example %q does not invoke its command", c.Name(), line)
			}

			var positional []string
			rest := words[2:]
			for i := 0; i < len(rest); i++ {
				w := rest[i]
				if w == "--" {
					positional = append(positional, rest[i+1:]...)
					break
				}
				if strings.HasPrefix(w, "--") {
					f := c.Flags().Lookup(strings.TrimPrefix(w, "--"))
					if f == nil {
						t.Fatalf("%s example %q: unknown flag %s", c.Name(), line, w)
					}
					if f.Value.Type() != "bool" {
						i++
					}
					continue
				}
				positional = append(positional, w)
			}
			if len(positional) == 0 {
				continue
			}
			if _, err := recipients.ParseAll(positional); err != nil {
				t.Errorf("%s example %q: %v", c.Name(), line, err)
			}
		}
	}
}
