// Package classifier grows the item taxonomy from listing titles and
// decides which item a title belongs to.
package classifier

import (
	"fmt"

	"github.com/jdkato/prose/v2"
)

// NounTag is the Penn Treebank tag of a singular common noun.
const NounTag = "NN"

// TaggedToken is one token with its part-of-speech tag.
type TaggedToken struct {
	Text string
	Tag  string
}

// Tagger assigns part-of-speech tags to the tokens of a text.
type Tagger interface {
	Tag(text string) ([]TaggedToken, error)
}

// TaggerFunc adapts a plain function to Tagger.
type TaggerFunc func(text string) ([]TaggedToken, error)

func (f TaggerFunc) Tag(text string) ([]TaggedToken, error) { return f(text) }

// ProseTagger tags with the averaged perceptron model bundled in prose.
type ProseTagger struct{}

// NewProseTagger returns a Tagger backed by prose.
func NewProseTagger() *ProseTagger {
	return &ProseTagger{}
}

// Tag tokenizes and tags text as a single sentence.
func (ProseTagger) Tag(text string) ([]TaggedToken, error) {
	doc, err := prose.NewDocument(text,
		prose.WithSegmentation(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return nil, fmt.Errorf("prose: %w", err)
	}

	tokens := doc.Tokens()
	out := make([]TaggedToken, 0, len(tokens))
	for _, tok := range tokens {
		out = append(out, TaggedToken{Text: tok.Text, Tag: tok.Tag})
	}
	return out, nil
}
