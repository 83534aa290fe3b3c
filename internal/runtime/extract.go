package runtime

import "encoding/json"

// extractReply pulls the reply text out of a runtime body. Runtimes do
// not agree on a shape: some wrap the text in a "response" field, some
// in "result", some return a bare string or plain text. Extraction
// order is fixed: response, then result, then the body itself.
func extractReply(raw []byte) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err == nil {
		if v, ok := fields["response"]; ok {
			return stringify(v)
		}
		if v, ok := fields["result"]; ok {
			return stringify(v)
		}
		return string(raw)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	return string(raw)
}

// stringify renders a JSON value as reply text: strings unquote,
// anything else keeps its JSON encoding.
func stringify(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return string(v)
}
