package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/agenthands/alignoracle/internal/core/model"
)

// DefaultScriptKey selects the reply used when no other key matches.
const DefaultScriptKey = "default"

// StaticBackend answers from a script without any network call. A reply is
// chosen by the first key, in lexical order, contained in the user prompt.
type StaticBackend struct {
	script map[string]string
	keys   []string
}

func NewStaticBackend(script map[string]string) *StaticBackend {
	keys := make([]string, 0, len(script))
	for k := range script {
		if k != DefaultScriptKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return &StaticBackend{script: script, keys: keys}
}

func (b *StaticBackend) Name() string { return "static" }

func (b *StaticBackend) Submit(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, user := splitMessages(req.Messages)
	for _, k := range b.keys {
		if strings.Contains(user, k) {
			return b.reply(req, b.script[k]), nil
		}
	}
	if r, ok := b.script[DefaultScriptKey]; ok {
		return b.reply(req, r), nil
	}
	return nil, newError(ErrBadRequest, b.Name(), 0, fmt.Errorf("no scripted reply for prompt"))
}

func (b *StaticBackend) reply(req Request, text string) *Response {
	in := 0
	for _, m := range req.Messages {
		in += len(strings.Fields(m.Content))
	}
	return &Response{
		Text:  text,
		Model: req.Model,
		Usage: model.TokenUsage{InputTokens: in, OutputTokens: len(strings.Fields(text))},
	}
}
