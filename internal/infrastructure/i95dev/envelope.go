package i95dev

import (
	"bytes"
	"encoding/json"

	"github.com/erp/bcsync/internal/domain/customersync"
)

// Envelope names reported by NormalizeEnvelope.
const (
	EnvelopeArray  = "array"
	EnvelopeObject = "object"
)

// envelopeFields are the object fields that may carry the record list, in the
// order they are tried.
var envelopeFields = []string{"resultData", "data", "result", "customers", "items"}

// NormalizeEnvelope extracts the record list from a pull response. A top-level
// array is used as is; otherwise the first envelope field holding an array
// wins. An object with no such field is a single record. Anything else,
// including malformed JSON, yields no records and an empty envelope name.
func NormalizeEnvelope(body []byte) ([]json.RawMessage, string) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return nil, ""
	}

	switch trimmed[0] {
	case '[':
		var records []json.RawMessage
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, ""
		}
		return records, EnvelopeArray
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return nil, ""
		}
		for _, name := range envelopeFields {
			raw, ok := fields[name]
			if !ok {
				continue
			}
			var records []json.RawMessage
			if err := json.Unmarshal(raw, &records); err != nil || records == nil {
				continue
			}
			return records, name
		}
		return []json.RawMessage{json.RawMessage(trimmed)}, EnvelopeObject
	default:
		return nil, ""
	}
}

// describeResponse builds the debug summary reported when a pull yields no records.
func describeResponse(body []byte) customersync.PullDebug {
	trimmed := bytes.TrimSpace(body)
	debug := customersync.PullDebug{
		ResponseType: jsonTypeOf(trimmed),
		HasData:      "no",
		HasResult:    "no",
		HasCustomers: "no",
		HasItems:     "no",
	}
	if len(trimmed) == 0 {
		return debug
	}

	switch trimmed[0] {
	case '[':
		debug.IsArray = true
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return debug
		}
		debug.HasData = presence(fields["data"])
		debug.HasResult = presence(fields["result"])
		debug.HasCustomers = presence(fields["customers"])
		debug.HasItems = presence(fields["items"])
	}
	return debug
}

// presence reports "yes" for a field whose value is set and not a zero scalar.
func presence(raw json.RawMessage) string {
	switch string(bytes.TrimSpace(raw)) {
	case "", "null", "false", "0", `""`:
		return "no"
	default:
		return "yes"
	}
}

func jsonTypeOf(trimmed []byte) string {
	if len(trimmed) == 0 {
		return "undefined"
	}
	if !json.Valid(trimmed) {
		return "string"
	}
	switch trimmed[0] {
	case '{', '[':
		return "object"
	case '"':
		return "string"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "object"
	default:
		return "number"
	}
}
