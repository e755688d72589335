// Package normalize reduces raw chatbot HTTP bodies (JSON, HTML or plain text)
// to plain text.
//
// Normalize is total: any input, including truncated JSON, bare markup, binary
// garbage or an empty body, yields a (possibly empty) string.
package normalize

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// CandidateFields is the ordered list of JSON keys searched for the reply text.
var CandidateFields = []string{
	"text",
	"reply",
	"message",
	"answer",
	"content",
	"body",
	"response",
	"output",
	"result",
}

// Normalize applies, in order: JSON field extraction, markup stripping, trim.
func Normalize(raw []byte) string {
	if !utf8.Valid(raw) {
		raw = bytes.ToValidUTF8(raw, []byte("\uFFFD"))
	}

	if text, ok := fromJSON(raw); ok {
		return strings.TrimSpace(cleanUnicode(text))
	}
	if looksLikeMarkup(raw) {
		return collapseSpace(cleanUnicode(stripMarkup(raw)))
	}
	return strings.TrimSpace(cleanUnicode(string(raw)))
}

// NormalizeString is Normalize for string input.
func NormalizeString(raw string) string {
	return Normalize([]byte(raw))
}

func fromJSON(raw []byte) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return "", false
	}

	var obj map[string]any
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		return "", false
	}
	if text, ok := pickField(obj); ok {
		return text, true
	}
	if text, ok := chatCompletionContent(obj); ok {
		return text, true
	}

	rendered, err := json.Marshal(obj)
	if err != nil {
		return string(trimmed), true
	}
	return string(rendered), true
}

// pickField returns the first candidate field holding a string. A candidate
// holding an object is searched one level down ({"data":{"reply":...}} is not
// a candidate, {"message":{"content":...}} is).
func pickField(obj map[string]any) (string, bool) {
	for _, key := range CandidateFields {
		v, ok := lookup(obj, key)
		if !ok {
			continue
		}
		switch val := v.(type) {
		case string:
			return val, true
		case map[string]any:
			for _, inner := range CandidateFields {
				if s, ok := lookup(val, inner); ok {
					if str, ok := s.(string); ok {
						return str, true
					}
				}
			}
		}
	}
	return "", false
}

// chatCompletionContent handles endpoints that proxy an OpenAI-style payload.
func chatCompletionContent(obj map[string]any) (string, bool) {
	choices, ok := obj["choices"].([]any)
	if !ok || len(choices) == 0 {
		return "", false
	}
	first, ok := choices[0].(map[string]any)
	if !ok {
		return "", false
	}
	msg, ok := first["message"].(map[string]any)
	if !ok {
		return "", false
	}
	content, ok := msg["content"].(string)
	return content, ok
}

// lookup is a case-insensitive key match, preferring an exact hit.
func lookup(obj map[string]any, key string) (any, bool) {
	if v, ok := obj[key]; ok {
		return v, true
	}
	for k, v := range obj {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

func looksLikeMarkup(raw []byte) bool {
	open := bytes.IndexByte(raw, '<')
	return open >= 0 && bytes.IndexByte(raw[open:], '>') > 0
}

// stripMarkup keeps text nodes only. Script and style bodies are dropped.
func stripMarkup(raw []byte) string {
	var sb strings.Builder
	z := html.NewTokenizer(bytes.NewReader(raw))
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF or a tokenizer error; either way what was read so far is kept.
			return sb.String()
		case html.StartTagToken:
			name, _ := z.TagName()
			if isHiddenTag(name) {
				skip++
			}
			sb.WriteByte(' ')
		case html.EndTagToken:
			name, _ := z.TagName()
			if isHiddenTag(name) && skip > 0 {
				skip--
			}
			sb.WriteByte(' ')
		case html.SelfClosingTagToken:
			sb.WriteByte(' ')
		case html.TextToken:
			if skip == 0 {
				sb.Write(z.Text())
			}
		}
	}
}

func isHiddenTag(name []byte) bool {
	switch string(name) {
	case "script", "style", "noscript", "template":
		return true
	}
	return false
}

// cleanUnicode folds compatibility forms (fullwidth letters and the like) and
// removes control and zero-width characters.
func cleanUnicode(s string) string {
	t := transform.Chain(
		norm.NFKC,
		runes.Remove(runes.Predicate(func(r rune) bool {
			if r == '\n' || r == '\r' || r == '\t' {
				return false
			}
			if unicode.IsControl(r) {
				return true
			}
			switch r {
			case '\u200B', '\u200C', '\u200D', '\uFEFF':
				return true
			}
			return r >= '\u202A' && r <= '\u202E'
		})),
	)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
