// Package prompt builds the single user message sent to the provider.
package prompt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const sourcePreamble = "You are a helpful assistant. The user has given you the following source to use to answer questions. Please only use this source, and this source only, when helping the user. Source: "

// Source is one named piece of ingested content.
type Source struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Sources keeps caller order. It decodes from a JSON object (key order is
// kept; a repeated key keeps its first position and takes the last value)
// or from an array of {name, content}.
type Sources []Source

func (s *Sources) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = nil
		return nil
	}
	if b[0] == '[' {
		var list []Source
		if err := json.Unmarshal(b, &list); err != nil {
			return err
		}
		*s = list
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("sources must be an object or an array")
	}
	out := Sources{}
	seen := map[string]int{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("source %q: %w", name, err)
		}
		if i, ok := seen[name]; ok {
			out[i].Content = contentString(raw)
			continue
		}
		seen[name] = len(out)
		out = append(out, Source{Name: name, Content: contentString(raw)})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*s = out
	return nil
}

// contentString flattens a JSON value to text. Strings are unquoted, other
// values are kept as their JSON encoding.
func contentString(raw json.RawMessage) string {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	return string(raw)
}

// Compose joins system and user prompt, inlining every source whose name
// occurs in user as a plain substring.
func Compose(system, user string, sources Sources) string {
	var ctx strings.Builder
	for _, src := range sources {
		if strings.Contains(user, src.Name) {
			fmt.Fprintf(&ctx, "\nContent for %s: %s\n", src.Name, src.Content)
		}
	}
	if ctx.Len() > 0 {
		return system + " " + ctx.String() + " " + user
	}
	return system + " " + user
}

// WithSource wraps system with instructions to answer only from content.
func WithSource(system, content string) string {
	return sourcePreamble + content + "\n\n" + system
}
