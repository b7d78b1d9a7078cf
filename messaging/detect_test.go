package messaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"nested object and array", `{"array": ["string", {"number": 10}]}`, true},
		{"pino record", `{"level":30,"time":1531171074631,"msg":"hello world","pid":657,"hostname":"box"}`, true},
		{"top level array", `[1,2,{"a":null}]`, true},
		{"bare string", `"just a string"`, true},
		{"bare number", `-12.5e3`, true},
		{"escaped quote inside string", `{"a":"b\"c"}`, true},
		{"unicode escape", `{"a":"\u00e9"}`, true},
		{"empty string", ``, false},
		{"whitespace only", " \n\t ", false},
		{"plain text", `hello world`, false},
		{"key without quotes", `object: {"a": 1}`, false},
		{"truncated object", `{"a":`, false},
		{"trailing comma", `{"a":1,}`, false},
		{"single quotes", `{'a':1}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsJSON(tt.input))
		})
	}
}
