package llm

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrNoJSON is returned when a response holds no parseable JSON object.
var ErrNoJSON = eris.New("llm: no JSON object in response")

var fencedJSON = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n?(.*?)```")

// ExtractJSON finds the JSON object in a model response. Candidates are
// tried in order: a fenced code block, the span from the first '{' to the
// last '}', then the whole response. The first that parses as a JSON object
// wins.
func ExtractJSON(text string) (string, error) {
	var candidates []string
	for _, m := range fencedJSON.FindAllStringSubmatch(text, -1) {
		candidates = append(candidates, m[1])
	}
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		candidates = append(candidates, text[start:end+1])
	}
	candidates = append(candidates, text)

	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if isJSONObject(c) {
			return c, nil
		}
	}
	return "", ErrNoJSON
}

// DecodeJSON extracts the JSON object from text and unmarshals it into v.
func DecodeJSON(text string, v any) error {
	raw, err := ExtractJSON(text)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return eris.Wrap(err, "llm: decode response JSON")
	}
	return nil
}

func isJSONObject(s string) bool {
	if !strings.HasPrefix(s, "{") {
		return false
	}
	var obj map[string]json.RawMessage
	return json.Unmarshal([]byte(s), &obj) == nil
}
