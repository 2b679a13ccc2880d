package classifier

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Decider answers whether a candidate noun is a valid item type. attempt
// counts earlier invalid answers for the same candidate, starting at 0.
// The raw answer is interpreted by the classifier.
type Decider interface {
	Decide(ctx context.Context, candidate string, attempt int) (string, error)
}

// DeciderFunc adapts a plain function to Decider.
type DeciderFunc func(ctx context.Context, candidate string, attempt int) (string, error)

func (f DeciderFunc) Decide(ctx context.Context, candidate string, attempt int) (string, error) {
	return f(ctx, candidate, attempt)
}

// ErrNoAnswer is returned when a decider has nothing left to answer with.
var ErrNoAnswer = errors.New("decider: no answer")

// PromptDecider asks a human on a line-oriented terminal.
type PromptDecider struct {
	in  *bufio.Scanner
	out io.Writer
}

// NewPromptDecider reads answers from in and writes prompts to out.
func NewPromptDecider(in io.Reader, out io.Writer) *PromptDecider {
	return &PromptDecider{in: bufio.NewScanner(in), out: out}
}

func (p *PromptDecider) Decide(ctx context.Context, candidate string, attempt int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if attempt == 0 {
		fmt.Fprintf(p.out, "Is %s a valid item type? y/n\n", candidate)
	} else {
		fmt.Fprintln(p.out, "y or n only, please")
	}
	fmt.Fprint(p.out, "> ")

	if !p.in.Scan() {
		if err := p.in.Err(); err != nil {
			return "", fmt.Errorf("read answer: %w", err)
		}
		return "", ErrNoAnswer
	}
	return strings.TrimSpace(p.in.Text()), nil
}

// ScriptedDecider replays a fixed sequence of answers, one per call.
type ScriptedDecider struct {
	mu      sync.Mutex
	answers []string
	next    int
}

// NewScriptedDecider returns a decider answering with answers in order.
func NewScriptedDecider(answers ...string) *ScriptedDecider {
	return &ScriptedDecider{answers: answers}
}

func (s *ScriptedDecider) Decide(_ context.Context, candidate string, _ int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.answers) {
		return "", fmt.Errorf("%w for %q", ErrNoAnswer, candidate)
	}
	a := s.answers[s.next]
	s.next++
	return a, nil
}

// AcceptOnly accepts exactly the named candidates and rejects the rest.
func AcceptOnly(names ...string) Decider {
	accept := make(map[string]struct{}, len(names))
	for _, n := range names {
		accept[strings.ToLower(strings.TrimSpace(n))] = struct{}{}
	}
	return DeciderFunc(func(_ context.Context, candidate string, _ int) (string, error) {
		if _, ok := accept[candidate]; ok {
			return "y", nil
		}
		return "n", nil
	})
}
