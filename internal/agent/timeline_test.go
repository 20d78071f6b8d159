package agent

import (
	"encoding/json"
	"testing"
)

func TestMessageContentDecodesStringOrParts(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "bare string",
			in:   `"Hello there"`,
			want: "Hello there",
		},
		{
			name: "single text part",
			in:   `[{"type":"text","text":"Hello"}]`,
			want: "Hello",
		},
		{
			name: "mixed parts drop non-text",
			in:   `[{"type":"text","text":"Hi "},{"type":"tool_call"},{"type":"text","text":"there"}]`,
			want: "Hi there",
		},
		{
			name: "thinking only yields empty",
			in:   `[{"type":"thinking","text":"hmm"}]`,
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c MessageContent
			if err := json.Unmarshal([]byte(tt.in), &c); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := c.PlainText(); got != tt.want {
				t.Errorf("PlainText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMessageContentRejectsGarbage(t *testing.T) {
	var c MessageContent
	if err := json.Unmarshal([]byte(`{"neither":"nor"}`), &c); err == nil {
		t.Error("object content decoded without error")
	}
}

func TestMessageContentRoundTrip(t *testing.T) {
	orig := PartsContent(ContentPart{Type: "text", Text: "body"})
	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back MessageContent
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.PlainText() != "body" {
		t.Errorf("round trip lost text: %q", back.PlainText())
	}
}

func TestStreamEventDecoding(t *testing.T) {
	payload := `{
		"type": "chat.item",
		"session_id": "s1",
		"item": {"id": "i1", "session_id": "s1", "turn_id": "t1", "kind": "assistant_message", "content": "Hello"}
	}`
	var ev StreamEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Type != EventChatItem || ev.Item == nil {
		t.Fatalf("decoded event = %+v", ev)
	}
	if ev.Item.Content.PlainText() != "Hello" {
		t.Errorf("item content = %q, want Hello", ev.Item.Content.PlainText())
	}
}
