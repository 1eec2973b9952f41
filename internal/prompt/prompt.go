// Package prompt defines the callback surface a loader uses to ask the
// operator questions mid-import (spec §6.2: "the only callbacks the
// core issues outward"). A loader is handed a Channel and never talks
// to a terminal, an HTTP client, or any other transport directly —
// that lets the same loader run under the CLI (answering from stdin)
// or the API (answering from a pending /prompts long-poll request)
// without change.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/wesm/chatvault/internal/model"
)

// Channel is the bidirectional prompt interface a Loader.Load call
// receives. Both methods block until an answer is available.
type Channel interface {
	// ChooseMyself asks which of the given users is the operator and
	// returns its index into users. The index is not guaranteed to be
	// in range (Stdin returns whatever number was typed); callers check it.
	ChooseMyself(users []model.User) (int, error)

	// AskForText asks a free-form question (e.g. "what should this
	// personal chat be named?") and returns the operator's answer.
	AskForText(question string) (string, error)
}

// Static answers every ChooseMyself with MyselfIndex and every
// AskForText with TextAnswer, regardless of the question asked. It
// grounds tests and any non-interactive caller that already knows the
// answers (e.g. a scripted import) without needing a live operator.
type Static struct {
	MyselfIndex int
	TextAnswer  string
}

func (s Static) ChooseMyself(users []model.User) (int, error) { return s.MyselfIndex, nil }
func (s Static) AskForText(question string) (string, error)   { return s.TextAnswer, nil }

// Stdin answers by reading lines from an io.Reader (os.Stdin in
// practice) and writing prompts to an io.Writer (os.Stdout), the way
// the CLI's import command asks the operator interactively.
type Stdin struct {
	In  io.Reader
	Out io.Writer
}

func (s Stdin) ChooseMyself(users []model.User) (int, error) {
	fmt.Fprintln(s.Out, "which of these is you?")
	for i, u := range users {
		fmt.Fprintf(s.Out, "  [%d] %s\n", i, u.PrettyName())
	}
	fmt.Fprint(s.Out, "> ")
	line, err := bufio.NewReader(s.In).ReadString('\n')
	if err != nil && line == "" {
		return 0, err
	}
	idx, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return 0, fmt.Errorf("invalid selection %q: %w", line, err)
	}
	return idx, nil
}

func (s Stdin) AskForText(question string) (string, error) {
	fmt.Fprintf(s.Out, "%s\n> ", question)
	line, err := bufio.NewReader(s.In).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
