package transcript

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

// Paths select every alternative text of one branch of a serialized event.
const (
	FinalTextPath   = "final.alternatives.#.text"
	PartialTextPath = "partial.alternatives.#.text"
)

var ErrMalformedPayload = errors.New("event payload is not well-formed json")

// Extract concatenates, in order and without separators, every value the
// path matches. A path that matches nothing yields "".
func Extract(payload []byte, path string) (string, error) {
	if !gjson.ValidBytes(payload) {
		return "", ErrMalformedPayload
	}
	res := gjson.GetBytes(payload, path)
	if !res.Exists() {
		return "", nil
	}
	if !res.IsArray() {
		return res.String(), nil
	}
	var b strings.Builder
	for _, v := range res.Array() {
		b.WriteString(v.String())
	}
	return b.String(), nil
}
