package llm

import "testing"

func TestDecodeLLMJSON(t *testing.T) {
	type issue struct {
		Chapter int    `json:"chapter"`
		Message string `json:"message"`
	}
	cases := []struct {
		name    string
		content string
		want    int
	}{
		{name: "bare array", content: `[{"chapter":1,"message":"a"}]`, want: 1},
		{name: "fenced", content: "```json\n[{\"chapter\":2,\"message\":\"b\"},{\"chapter\":3,\"message\":\"c\"}]\n```", want: 2},
		{name: "prose", content: "Here are the issues:\n[{\"chapter\":4,\"message\":\"d\"}]\nThanks.", want: 1},
		{name: "empty array", content: "[]", want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got []issue
			if err := DecodeLLMJSON(tc.content, &got); err != nil {
				t.Fatalf("DecodeLLMJSON: %v", err)
			}
			if len(got) != tc.want {
				t.Fatalf("expected %d issues, got %d", tc.want, len(got))
			}
		})
	}
}

func TestDecodeLLMJSONRejectsGarbage(t *testing.T) {
	var out map[string]any
	if err := DecodeLLMJSON("no json here", &out); err == nil {
		t.Fatal("expected error")
	}
	if err := DecodeLLMJSON("   ", &out); err == nil {
		t.Fatal("expected error for empty payload")
	}
}
