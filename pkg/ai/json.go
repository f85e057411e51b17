package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// ErrMalformedJSON is returned when no attempt produced parseable JSON.
var ErrMalformedJSON = errors.New("generator returned malformed json")

// ExtractJSON returns the outermost JSON object or array in text, ignoring
// markdown fences and surrounding prose.
func ExtractJSON(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "```"); i >= 0 {
		rest := text[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		text = strings.TrimSpace(rest)
	}
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return "", false
	}
	closer := byte('}')
	if text[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(text, closer)
	if end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// CompleteJSON asks gen for a JSON answer and decodes it into out, which
// must be a non-nil pointer. A malformed answer is re-asked up to retries
// more times. Each attempt decodes into a fresh zero value, and out is only
// assigned from the attempt that succeeded.
func CompleteJSON(ctx context.Context, gen TextGenerator, systemPrompt, userPrompt string, retries int, out any) error {
	target := reflect.ValueOf(out)
	if target.Kind() != reflect.Pointer || target.IsNil() {
		return fmt.Errorf("complete json: out must be a non-nil pointer, got %T", out)
	}
	if retries < 0 {
		retries = 0
	}
	prompt := userPrompt
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		text, err := gen.GenerateText(ctx, systemPrompt, prompt)
		if err != nil {
			return err
		}
		raw, ok := ExtractJSON(text)
		if !ok {
			lastErr = errors.New("no json found in response")
		} else {
			fresh := reflect.New(target.Elem().Type())
			if err := json.Unmarshal([]byte(raw), fresh.Interface()); err != nil {
				lastErr = err
			} else {
				target.Elem().Set(fresh.Elem())
				return nil
			}
		}
		prompt = userPrompt + "\n\nYour previous answer was not valid JSON (" + lastErr.Error() + "). Reply with the JSON document only."
	}
	return fmt.Errorf("%w: %v", ErrMalformedJSON, lastErr)
}
