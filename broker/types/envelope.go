package types

import "encoding/json"

// Envelope is one decoded API response. Raw always holds the full body;
// Results and Next are populated when the provider uses the common
// {"results": [...], "next": "..."} paging shape.
type Envelope struct {
	Raw     json.RawMessage
	Results []json.RawMessage
	Next    string
}

// ParseEnvelope decodes a response body into an Envelope. Bodies that are
// not paginated objects (bare arrays, scalars) are kept verbatim in Raw.
func ParseEnvelope(body []byte) *Envelope {
	env := &Envelope{Raw: append(json.RawMessage(nil), body...)}
	var page struct {
		Results []json.RawMessage `json:"results"`
		Next    *string           `json:"next"`
	}
	if err := json.Unmarshal(body, &page); err == nil {
		env.Results = page.Results
		if page.Next != nil {
			env.Next = *page.Next
		}
	}
	return env
}

// Decode unmarshals the full body into v.
func (e *Envelope) Decode(v any) error {
	return json.Unmarshal(e.Raw, v)
}

// DecodeResults unmarshals each element of Results into a slice of T.
func DecodeResults[T any](e *Envelope) ([]T, error) {
	out := make([]T, 0, len(e.Results))
	for _, raw := range e.Results {
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// HasNext reports whether the provider advertised another page.
func (e *Envelope) HasNext() bool { return e.Next != "" }
