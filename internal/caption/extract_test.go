package caption

import (
	"encoding/json"
	"testing"

	"github.com/nugget/moodcaption/internal/gemini"
)

func decode(t *testing.T, body string) *gemini.Response {
	t.Helper()
	var r gemini.Response
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	return &r
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		want   string
		wantOK bool
	}{
		{
			name: "empty candidates",
			body: `{"candidates": []}`,
		},
		{
			name: "no candidates key",
			body: `{}`,
		},
		{
			name: "null content",
			body: `{"candidates":[{"content":null}]}`,
		},
		{
			name: "empty parts",
			body: `{"candidates":[{"content":{"parts":[]}}]}`,
		},
		{
			name:   "heading skipped",
			body:   `{"candidates":[{"content":{"parts":[{"text":"**Heading**\nA great caption here"}]}}]}`,
			want:   "A great caption here",
			wantOK: true,
		},
		{
			name:   "hash heading skipped",
			body:   `{"candidates":[{"content":{"parts":[{"text":"# Options\n\nChasing sunsets and good vibes"}]}}]}`,
			want:   "Chasing sunsets and good vibes",
			wantOK: true,
		},
		{
			name: "too short",
			body: `{"candidates":[{"content":{"parts":[{"text":"Hi"}]}}]}`,
		},
		{
			name: "exactly five after cleaning",
			body: `{"candidates":[{"content":{"parts":[{"text":"\"Hello\""}]}}]}`,
		},
		{
			name:   "bullet quote stripped",
			body:   `{"candidates":[{"content":{"parts":[{"text":"*   \"Lovely day!\""}]}}]}`,
			want:   "Lovely day!",
			wantOK: true,
		},
		{
			name:   "surrounding whitespace and blank lines",
			body:   `{"candidates":[{"content":{"parts":[{"text":"\n\n   Salt in the air, sun on my skin   \n\n"}]}}]}`,
			want:   "Salt in the air, sun on my skin",
			wantOK: true,
		},
		{
			name:   "first match wins over later lines",
			body:   `{"candidates":[{"content":{"parts":[{"text":"First caption line\nSecond caption line"}]}}]}`,
			want:   "First caption line",
			wantOK: true,
		},
		{
			name:   "short line skipped then next accepted",
			body:   `{"candidates":[{"content":{"parts":[{"text":"Ok\nWaves, wind and wonder"}]}}]}`,
			want:   "Waves, wind and wonder",
			wantOK: true,
		},
		{
			name:   "falls through to second part",
			body:   `{"candidates":[{"content":{"parts":[{"text":"**Here you go:**"},{"text":"Second part caption"}]}}]}`,
			want:   "Second part caption",
			wantOK: true,
		},
		{
			name:   "falls through to second candidate",
			body:   `{"candidates":[{"content":{"parts":[{"text":"Hi"}]}},{"content":{"parts":[{"text":"Backup candidate caption"}]}}]}`,
			want:   "Backup candidate caption",
			wantOK: true,
		},
		{
			name:   "skips candidate with no content",
			body:   `{"candidates":[{"finishReason":"SAFETY"},{"content":{"parts":[{"text":"Safe and sound caption"}]}}]}`,
			want:   "Safe and sound caption",
			wantOK: true,
		},
		{
			name:   "first candidate wins over second",
			body:   `{"candidates":[{"content":{"parts":[{"text":"From candidate one"}]}},{"content":{"parts":[{"text":"From candidate two"}]}}]}`,
			want:   "From candidate one",
			wantOK: true,
		},
		{
			name: "only headings",
			body: `{"candidates":[{"content":{"parts":[{"text":"**Option 1**\n# Option 2"}]}}]}`,
		},
		{
			name:   "later candidate with numeric text",
			body:   `{"candidates":[{"content":{"parts":[{"text":"Golden hour, golden mood"}]}},{"content":{"parts":[{"text":123}]}}]}`,
			want:   "Golden hour, golden mood",
			wantOK: true,
		},
		{
			name:   "earlier candidate with numeric text",
			body:   `{"candidates":[{"content":{"parts":[{"text":123}]}},{"content":{"parts":[{"text":"Golden hour, golden mood"}]}}]}`,
			want:   "Golden hour, golden mood",
			wantOK: true,
		},
		{
			name:   "malformed parts and candidates skipped",
			body:   `{"candidates":[7,{"content":"text"},{"content":{"parts":"nope"}},{"content":{"parts":[null,"x",{"text":["a"]},{"text":"Still here at the end"}]}}],"usageMetadata":"n/a"}`,
			want:   "Still here at the end",
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Extract(decode(t, tt.body))
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("Extract() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestExtract_Nil(t *testing.T) {
	if got, ok := Extract(nil); ok || got != "" {
		t.Errorf("Extract(nil) = (%q, %v), want absent", got, ok)
	}
}

func TestCleanLine_UnicodeLength(t *testing.T) {
	// Six runes but more than six bytes.
	if _, ok := cleanLine("ñandú!"); !ok {
		t.Error("six-rune line should qualify")
	}
	// Five runes, ten bytes.
	if _, ok := cleanLine("ééééé"); ok {
		t.Error("five-rune line should not qualify")
	}
}
