package customersync

import (
	"bytes"
	"encoding/json"
	"strings"
)

// PayloadKind tags how a record's nested inputData arrived.
type PayloadKind int

const (
	// PayloadAbsent means the record carries no inputData; the record itself is the customer.
	PayloadAbsent PayloadKind = iota
	// PayloadStructured means inputData is (or decoded to) a JSON object.
	PayloadStructured
	// PayloadRaw means inputData could not be read as an object and is kept verbatim.
	PayloadRaw
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadStructured:
		return "structured"
	case PayloadRaw:
		return "raw"
	default:
		return "absent"
	}
}

// Payload is the nested customer document of a pulled record, resolved once
// at ingestion.
type Payload struct {
	Kind   PayloadKind
	Object json.RawMessage // set when Kind is PayloadStructured
	Raw    string          // set when Kind is PayloadRaw
}

// SourceRecord is one record as pulled from i95Dev.
type SourceRecord struct {
	Raw       json.RawMessage
	Email     string
	Reference string
	MessageID any
	SourceID  string
	Payload   Payload

	isObject bool
}

// NewSourceRecord reads the identifying and correlation fields of a pulled
// record and resolves its inputData.
func NewSourceRecord(raw json.RawMessage) SourceRecord {
	rec := SourceRecord{Raw: raw}

	fields, ok := decodeObject(raw)
	if !ok {
		rec.Payload = Payload{Kind: PayloadRaw, Raw: strings.TrimSpace(string(raw))}
		return rec
	}
	rec.isObject = true
	rec.Email = stringField(fields, "email")
	rec.Reference = stringField(fields, "reference")
	rec.SourceID = stringField(fields, "sourceId")
	rec.MessageID = scalarField(fields, "messageId")
	rec.Payload = resolvePayload(fields["inputData"])

	if rec.Payload.Kind == PayloadStructured {
		if inner, ok := decodeObject(rec.Payload.Object); ok {
			if rec.Email == "" {
				rec.Email = stringField(inner, "email")
			}
			if rec.Reference == "" {
				rec.Reference = stringField(inner, "reference")
			}
			if rec.SourceID == "" {
				rec.SourceID = stringField(inner, "sourceId")
			}
		}
	}
	return rec
}

// NewSourceRecords wraps each raw record.
func NewSourceRecords(raws []json.RawMessage) []SourceRecord {
	out := make([]SourceRecord, len(raws))
	for i, raw := range raws {
		out[i] = NewSourceRecord(raw)
	}
	return out
}

// CorrelationKey returns the record's email, falling back to its reference.
func (r SourceRecord) CorrelationKey() string {
	if r.Email != "" {
		return r.Email
	}
	return r.Reference
}

// IsNull reports whether the pulled element was the JSON literal null.
func (r SourceRecord) IsNull() bool {
	return bytes.Equal(bytes.TrimSpace(r.Raw), []byte("null"))
}

// customerDocument returns the JSON object the mapper reads, or nil when the
// record has nothing structured to offer.
func (r SourceRecord) customerDocument() json.RawMessage {
	switch r.Payload.Kind {
	case PayloadStructured:
		return r.Payload.Object
	case PayloadAbsent:
		if r.isObject {
			return r.Raw
		}
	}
	return nil
}

// MarshalJSON echoes the record as it was pulled.
func (r SourceRecord) MarshalJSON() ([]byte, error) {
	if len(r.Raw) == 0 {
		return []byte("null"), nil
	}
	return r.Raw, nil
}

func resolvePayload(raw json.RawMessage) Payload {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Payload{Kind: PayloadAbsent}
	}

	switch trimmed[0] {
	case '{':
		return Payload{Kind: PayloadStructured, Object: json.RawMessage(trimmed)}
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil || s == "" {
			return Payload{Kind: PayloadAbsent}
		}
		inner := bytes.TrimSpace([]byte(s))
		if len(inner) > 0 && inner[0] == '{' && json.Valid(inner) {
			return Payload{Kind: PayloadStructured, Object: json.RawMessage(inner)}
		}
		return Payload{Kind: PayloadRaw, Raw: s}
	case 'f', '0':
		// false and 0 read as "no inputData"
		if string(trimmed) == "false" || string(trimmed) == "0" {
			return Payload{Kind: PayloadAbsent}
		}
	}
	return Payload{Kind: PayloadRaw, Raw: string(trimmed)}
}

func decodeObject(raw json.RawMessage) (map[string]json.RawMessage, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, false
	}
	return fields, true
}

// stringField reads a string or number field as text. Anything else is "".
func stringField(fields map[string]json.RawMessage, key string) string {
	switch v := scalarField(fields, key).(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// scalarField reads a string or number field, keeping numbers as json.Number.
func scalarField(fields map[string]json.RawMessage, key string) any {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	switch v.(type) {
	case string, json.Number:
		return v
	default:
		return nil
	}
}
