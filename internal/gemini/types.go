package gemini

import "encoding/json"

// Request is the body of a generateContent call.
type Request struct {
	Contents         []Content         `json:"contents"`
	GenerationConfig *GenerationConfig `json:"generationConfig,omitempty"`
}

// Content is one turn of input or output.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part is a fragment of content. Only text parts are used here.
type Part struct {
	Text string `json:"text,omitempty"`
}

// GenerationConfig controls sampling.
type GenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

// Response is the body of a successful generateContent call. Every level
// is optional on the wire and the shape is not guaranteed: candidates
// may be missing, content may be null, a part's text may be something
// other than a string. Decoding is element by element, so a malformed
// candidate or part is dropped without losing the well-formed ones
// around it. Only a body that is not a JSON object fails to decode.
type Response struct {
	Candidates     []Candidate     `json:"candidates"`
	PromptFeedback *PromptFeedback `json:"promptFeedback,omitempty"`
	UsageMetadata  *UsageMetadata  `json:"usageMetadata,omitempty"`
	ModelVersion   string          `json:"modelVersion,omitempty"`
}

// Candidate is one generated alternative.
type Candidate struct {
	Content      *Content `json:"content"`
	FinishReason string   `json:"finishReason,omitempty"`
}

// PromptFeedback is set when the prompt itself was blocked.
type PromptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

// UsageMetadata reports token counts.
type UsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Response) UnmarshalJSON(b []byte) error {
	var raw struct {
		Candidates     json.RawMessage `json:"candidates"`
		PromptFeedback json.RawMessage `json:"promptFeedback"`
		UsageMetadata  json.RawMessage `json:"usageMetadata"`
		ModelVersion   json.RawMessage `json:"modelVersion"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	*r = Response{ModelVersion: stringOf(raw.ModelVersion)}
	for _, elem := range elements(raw.Candidates) {
		var c Candidate
		if json.Unmarshal(elem, &c) == nil {
			r.Candidates = append(r.Candidates, c)
		}
	}

	var pf PromptFeedback
	if isObject(raw.PromptFeedback) && json.Unmarshal(raw.PromptFeedback, &pf) == nil {
		r.PromptFeedback = &pf
	}
	var um UsageMetadata
	if isObject(raw.UsageMetadata) && json.Unmarshal(raw.UsageMetadata, &um) == nil {
		r.UsageMetadata = &um
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler. Content that is not an
// object leaves the candidate without content.
func (c *Candidate) UnmarshalJSON(b []byte) error {
	var raw struct {
		Content      json.RawMessage `json:"content"`
		FinishReason json.RawMessage `json:"finishReason"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	*c = Candidate{FinishReason: stringOf(raw.FinishReason)}
	if isObject(raw.Content) {
		var content Content
		if json.Unmarshal(raw.Content, &content) == nil {
			c.Content = &content
		}
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler. Parts that are not objects
// are skipped; a text that is not a string reads as empty.
func (c *Content) UnmarshalJSON(b []byte) error {
	var raw struct {
		Role  json.RawMessage `json:"role"`
		Parts json.RawMessage `json:"parts"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	*c = Content{Role: stringOf(raw.Role)}
	for _, elem := range elements(raw.Parts) {
		var p struct {
			Text json.RawMessage `json:"text"`
		}
		if json.Unmarshal(elem, &p) == nil {
			c.Parts = append(c.Parts, Part{Text: stringOf(p.Text)})
		}
	}
	return nil
}

// elements splits a JSON array into its raw elements. Anything other
// than an array yields nil.
func elements(b json.RawMessage) []json.RawMessage {
	var elems []json.RawMessage
	if json.Unmarshal(b, &elems) != nil {
		return nil
	}
	return elems
}

// stringOf returns b as a string if it is a JSON string, else "".
func stringOf(b json.RawMessage) string {
	var s string
	if json.Unmarshal(b, &s) != nil {
		return ""
	}
	return s
}

func isObject(b json.RawMessage) bool {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		case '{':
			return true
		default:
			return false
		}
	}
	return false
}

// NewTextRequest builds a single-turn request carrying one text part.
func NewTextRequest(prompt string, cfg GenerationConfig) *Request {
	return &Request{
		Contents:         []Content{{Parts: []Part{{Text: prompt}}}},
		GenerationConfig: &cfg,
	}
}
