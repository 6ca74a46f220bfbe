package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResponseText(t *testing.T) {
	assert.Equal(t, "", ResponseText(nil))
	assert.Equal(t, "a\nb", ResponseText(&MessageResponse{Content: []ContentBlock{
		{Type: "text", Text: "a"},
		{Type: "text", Text: ""},
		{Type: "text", Text: "b"},
	}}))
}

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"is_cim": true}`, `{"is_cim": true}`},
		{"json fence", "```json\n{\"is_cim\": false}\n```", `{"is_cim": false}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"prose", `Here is the result: {"a":{"b":2}} Hope it helps.`, `{"a":{"b":2}}`},
		{"no object", "not json", "not json"},
		{"whitespace", "  {\"a\":1}  \n", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanJSON(tt.in))
		})
	}
}
