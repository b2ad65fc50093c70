package i95dev

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeEnvelope(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		envelope string
		count    int
	}{
		{"top-level array", `[{"a":1},{"a":2}]`, EnvelopeArray, 2},
		{"resultData", `{"resultData":[{"a":1}]}`, "resultData", 1},
		{"data", `{"data":[{"a":1},{"a":2},{"a":3}]}`, "data", 3},
		{"result", `{"result":[{"a":1}]}`, "result", 1},
		{"customers", `{"customers":[{"a":1}]}`, "customers", 1},
		{"items", `{"items":[{"a":1}]}`, "items", 1},
		{"resultData wins over data", `{"data":[{},{}],"resultData":[{}]}`, "resultData", 1},
		{"non-array field is skipped", `{"resultData":"x","items":[{}]}`, "items", 1},
		{"null field is skipped", `{"resultData":null,"data":[{}]}`, "data", 1},
		{"matched empty array", `{"data":[]}`, "data", 0},
		{"single object", `{"email":"a@example.com"}`, EnvelopeObject, 1},
		{"empty object", `{}`, EnvelopeObject, 1},
		{"null", `null`, "", 0},
		{"string", `"nothing"`, "", 0},
		{"number", `42`, "", 0},
		{"empty body", ``, "", 0},
		{"malformed", `{"data":[`, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, envelope := NormalizeEnvelope([]byte(tt.body))
			assert.Equal(t, tt.envelope, envelope)
			assert.Len(t, records, tt.count)
		})
	}
}

func TestNormalizeEnvelope_SingleObjectKeepsBody(t *testing.T) {
	records, _ := NormalizeEnvelope([]byte(` {"email":"a@example.com"} `))
	assert.Len(t, records, 1)
	assert.JSONEq(t, `{"email":"a@example.com"}`, string(records[0]))
}

func TestDescribeResponse(t *testing.T) {
	debug := describeResponse([]byte(`{"data":null,"result":{},"customers":[],"items":0}`))
	assert.Equal(t, "object", debug.ResponseType)
	assert.False(t, debug.IsArray)
	assert.Equal(t, "no", debug.HasData)
	assert.Equal(t, "yes", debug.HasResult)
	assert.Equal(t, "yes", debug.HasCustomers)
	assert.Equal(t, "no", debug.HasItems)

	debug = describeResponse([]byte(`[]`))
	assert.True(t, debug.IsArray)
	assert.Equal(t, "object", debug.ResponseType)

	assert.Equal(t, "undefined", describeResponse(nil).ResponseType)
	assert.Equal(t, "string", describeResponse([]byte(`"x"`)).ResponseType)
	assert.Equal(t, "number", describeResponse([]byte(`7`)).ResponseType)
}
