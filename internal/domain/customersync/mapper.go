package customersync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

var schemePattern = regexp.MustCompile(`(?i)^https?://`)

// text decodes a JSON scalar as a string. Numbers keep their literal form,
// booleans become "true" or "false" and null is empty. Objects and arrays
// are rejected.
type text string

func (t *text) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		*t = ""
		return nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*t = text(s)
	case '{', '[':
		return fmt.Errorf("expected a scalar, got %s", kindOf(trimmed[0]))
	case 'n':
		*t = ""
	default:
		// numbers and booleans are valid JSON literals already
		*t = text(trimmed)
	}
	return nil
}

func kindOf(b byte) string {
	if b == '{' {
		return "object"
	}
	return "array"
}

type sourceAddress struct {
	Street            text `json:"street"`
	City              text `json:"city"`
	RegionID          text `json:"regionId"`
	CountryID         text `json:"countryId"`
	Postcode          text `json:"postcode"`
	Telephone         text `json:"telephone"`
	IsDefaultBilling  bool `json:"isDefaultBilling"`
	IsDefaultShipping bool `json:"isDefaultShipping"`
}

type sourceCustomer struct {
	FirstName text            `json:"firstName"`
	LastName  text            `json:"lastName"`
	Email     text            `json:"email"`
	Origin    text            `json:"origin"`
	Addresses []sourceAddress `json:"addresses"`
}

// RecordMapper turns pulled i95Dev customers into Business Central create
// requests. It holds no state.
type RecordMapper struct{}

// NewRecordMapper creates a RecordMapper.
func NewRecordMapper() *RecordMapper {
	return &RecordMapper{}
}

// MapMany maps every record in order. The first failure aborts the mapping
// and is returned as a *MappingError.
func (m *RecordMapper) MapMany(records []SourceRecord) ([]CanonicalTargetRecord, error) {
	out := make([]CanonicalTargetRecord, 0, len(records))
	for i, rec := range records {
		mapped, err := m.Map(rec)
		if err != nil {
			return nil, &MappingError{Index: i, Err: err}
		}
		out = append(out, mapped)
	}
	return out, nil
}

// Map maps a single record. Records without a structured customer document
// map to a Company with empty fields. A null record or a field holding an
// object or array where text is expected is ErrMalformedRecord.
func (m *RecordMapper) Map(rec SourceRecord) (CanonicalTargetRecord, error) {
	if rec.IsNull() {
		return CanonicalTargetRecord{}, fmt.Errorf("%w: record is null", ErrMalformedRecord)
	}
	var src sourceCustomer
	if doc := rec.customerDocument(); doc != nil {
		if err := json.Unmarshal(doc, &src); err != nil {
			return CanonicalTargetRecord{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
		}
	}

	addr := selectAddress(src.Addresses)

	return CanonicalTargetRecord{
		DisplayName:  strings.TrimSpace(string(src.FirstName + " " + src.LastName)),
		Type:         CustomerTypeCompany,
		AddressLine1: string(addr.Street),
		City:         string(addr.City),
		State:        string(addr.RegionID),
		Country:      string(addr.CountryID),
		PostalCode:   string(addr.Postcode),
		PhoneNumber:  SanitizePhone(string(addr.Telephone)),
		Email:        string(src.Email),
		Website:      NormalizeWebsite(string(src.Origin)),
		TaxLiable:    true,
	}, nil
}

// selectAddress prefers the default billing address, then the default
// shipping address, then the first one.
func selectAddress(addresses []sourceAddress) sourceAddress {
	for _, a := range addresses {
		if a.IsDefaultBilling {
			return a
		}
	}
	for _, a := range addresses {
		if a.IsDefaultShipping {
			return a
		}
	}
	if len(addresses) > 0 {
		return addresses[0]
	}
	return sourceAddress{}
}

// SanitizePhone keeps ASCII digits and a '+' in leading position.
func SanitizePhone(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && b.Len() == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeWebsite turns a store origin into an absolute https URL.
func NormalizeWebsite(origin string) string {
	if origin == "" {
		return ""
	}
	if schemePattern.MatchString(origin) {
		return origin
	}
	if strings.Contains(origin, ".") && strings.IndexFunc(origin, unicode.IsSpace) < 0 {
		return "https://" + origin
	}
	return "https://" + origin + ".com"
}
