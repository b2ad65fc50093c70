package customersync

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeWebsite(t *testing.T) {
	tests := []struct {
		name   string
		origin string
		want   string
	}{
		{"absent", "", ""},
		{"bare domain gets scheme", "example.com", "https://example.com"},
		{"https kept", "https://already.com", "https://already.com"},
		{"http kept", "http://plain.example.org", "http://plain.example.org"},
		{"scheme is case insensitive", "HTTPS://Shop.Example", "HTTPS://Shop.Example"},
		{"bare name gets com", "myshop", "https://myshop.com"},
		{"dot with whitespace treated as name", "my shop.com", "https://my shop.com.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeWebsite(tt.origin))
		})
	}
}

func TestSanitizePhone(t *testing.T) {
	tests := []struct {
		name  string
		phone string
		want  string
	}{
		{"absent", "", ""},
		{"formatted international", "+1 (555) 123-4567", "+15551234567"},
		{"local", "555.123.4567", "5551234567"},
		{"inner plus dropped", "555+123", "555123"},
		{"leading plus after spaces", "  +44 20 7946 0958", "+442079460958"},
		{"letters stripped", "ext 12", "12"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizePhone(tt.phone))
		})
	}
}

func TestRecordMapper_Map(t *testing.T) {
	m := NewRecordMapper()

	t.Run("maps a full customer", func(t *testing.T) {
		rec := NewSourceRecord(json.RawMessage(`{
			"firstName": "Ada",
			"lastName": "Lovelace",
			"email": "ada@example.com",
			"origin": "example.com",
			"addresses": [
				{"street": "1 Ship St", "city": "Leeds", "regionId": "WY", "countryId": "GB", "postcode": "LS1", "telephone": "111", "isDefaultShipping": true},
				{"street": "2 Bill Rd", "city": "London", "regionId": "LDN", "countryId": "GB", "postcode": "N1", "telephone": "+44 (20) 7946-0958", "isDefaultBilling": true}
			]
		}`))

		got, err := m.Map(rec)
		require.NoError(t, err)
		assert.Equal(t, CanonicalTargetRecord{
			DisplayName:  "Ada Lovelace",
			Type:         CustomerTypeCompany,
			AddressLine1: "2 Bill Rd",
			City:         "London",
			State:        "LDN",
			Country:      "GB",
			PostalCode:   "N1",
			PhoneNumber:  "+442079460958",
			Email:        "ada@example.com",
			Website:      "https://example.com",
			TaxLiable:    true,
		}, got)
	})

	t.Run("falls back to shipping then first address", func(t *testing.T) {
		shipping := NewSourceRecord(json.RawMessage(`{"addresses":[{"city":"A"},{"city":"B","isDefaultShipping":true}]}`))
		got, err := m.Map(shipping)
		require.NoError(t, err)
		assert.Equal(t, "B", got.City)

		first := NewSourceRecord(json.RawMessage(`{"addresses":[{"city":"A"},{"city":"B"}]}`))
		got, err = m.Map(first)
		require.NoError(t, err)
		assert.Equal(t, "A", got.City)
	})

	t.Run("empty record maps to an empty company", func(t *testing.T) {
		got, err := m.Map(NewSourceRecord(json.RawMessage(`{}`)))
		require.NoError(t, err)
		assert.Equal(t, "", got.DisplayName)
		assert.Equal(t, CustomerTypeCompany, got.Type)
		assert.True(t, got.TaxLiable)
		assert.Empty(t, got.Website)
		assert.Empty(t, got.PhoneNumber)
	})

	t.Run("single name is trimmed", func(t *testing.T) {
		got, err := m.Map(NewSourceRecord(json.RawMessage(`{"lastName":"Hopper"}`)))
		require.NoError(t, err)
		assert.Equal(t, "Hopper", got.DisplayName)
	})

	t.Run("reads stringified inputData", func(t *testing.T) {
		rec := NewSourceRecord(json.RawMessage(`{"messageId": 7, "inputData": "{\"firstName\":\"Grace\",\"email\":\"g@example.com\"}"}`))
		got, err := m.Map(rec)
		require.NoError(t, err)
		assert.Equal(t, "Grace", got.DisplayName)
		assert.Equal(t, "g@example.com", got.Email)
	})

	t.Run("reads object inputData", func(t *testing.T) {
		rec := NewSourceRecord(json.RawMessage(`{"inputData": {"firstName":"Linus","origin":"kernel"}}`))
		got, err := m.Map(rec)
		require.NoError(t, err)
		assert.Equal(t, "Linus", got.DisplayName)
		assert.Equal(t, "https://kernel.com", got.Website)
	})

	t.Run("numeric scalars are read as text", func(t *testing.T) {
		rec := NewSourceRecord(json.RawMessage(`{"inputData":{"firstName":42,"addresses":[{"isDefaultBilling":true,"regionId":12,"postcode":90210,"telephone":5551234,"street":null}]}}`))
		got, err := m.Map(rec)
		require.NoError(t, err)
		assert.Equal(t, "42", got.DisplayName)
		assert.Equal(t, "12", got.State)
		assert.Equal(t, "90210", got.PostalCode)
		assert.Equal(t, "5551234", got.PhoneNumber)
		assert.Empty(t, got.AddressLine1)
	})

	t.Run("object where text is expected is malformed", func(t *testing.T) {
		_, err := m.Map(NewSourceRecord(json.RawMessage(`{"firstName": {"given":"Ada"}}`)))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMalformedRecord)
	})

	t.Run("array where text is expected is malformed", func(t *testing.T) {
		_, err := m.Map(NewSourceRecord(json.RawMessage(`{"addresses":[{"postcode":["90210"]}]}`)))
		assert.ErrorIs(t, err, ErrMalformedRecord)
	})

	t.Run("null record is malformed", func(t *testing.T) {
		_, err := m.Map(NewSourceRecord(json.RawMessage(`null`)))
		assert.ErrorIs(t, err, ErrMalformedRecord)
	})

	t.Run("non-object record maps to an empty company", func(t *testing.T) {
		got, err := m.Map(NewSourceRecord(json.RawMessage(`"just text"`)))
		require.NoError(t, err)
		assert.Equal(t, CustomerTypeCompany, got.Type)
		assert.Empty(t, got.Email)
	})
}

func TestRecordMapper_MapMany(t *testing.T) {
	m := NewRecordMapper()

	t.Run("preserves order and length", func(t *testing.T) {
		records := NewSourceRecords([]json.RawMessage{
			json.RawMessage(`{"email":"a@example.com"}`),
			json.RawMessage(`{"email":"b@example.com"}`),
			json.RawMessage(`{}`),
			json.RawMessage(`{"email":"c@example.com"}`),
		})

		got, err := m.MapMany(records)
		require.NoError(t, err)
		require.Len(t, got, len(records))
		assert.Equal(t, "a@example.com", got[0].Email)
		assert.Equal(t, "b@example.com", got[1].Email)
		assert.Equal(t, "", got[2].Email)
		assert.Equal(t, "c@example.com", got[3].Email)
	})

	t.Run("numeric region and postcode do not abort the packet", func(t *testing.T) {
		records := NewSourceRecords([]json.RawMessage{
			json.RawMessage(`{"inputData":{"addresses":[{"isDefaultBilling":true,"regionId":12,"postcode":90210}]}}`),
			json.RawMessage(`{"email":"b@example.com"}`),
		})

		got, err := m.MapMany(records)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "12", got[0].State)
		assert.Equal(t, "90210", got[0].PostalCode)
	})

	t.Run("null element aborts as a mapping error", func(t *testing.T) {
		records := NewSourceRecords([]json.RawMessage{
			json.RawMessage(`{"email":"a@example.com"}`),
			json.RawMessage(`null`),
		})

		_, err := m.MapMany(records)
		var mappingErr *MappingError
		require.ErrorAs(t, err, &mappingErr)
		assert.Equal(t, 1, mappingErr.Index)
		assert.ErrorIs(t, err, ErrMalformedRecord)
	})

	t.Run("is deterministic", func(t *testing.T) {
		records := NewSourceRecords([]json.RawMessage{
			json.RawMessage(`{"firstName":"A","origin":"shop","addresses":[{"telephone":"+1 2"}]}`),
		})
		first, err := m.MapMany(records)
		require.NoError(t, err)
		second, err := m.MapMany(records)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("reports the failing index", func(t *testing.T) {
		records := NewSourceRecords([]json.RawMessage{
			json.RawMessage(`{}`),
			json.RawMessage(`{"addresses": "nope"}`),
		})

		_, err := m.MapMany(records)
		require.Error(t, err)

		var mapErr *MappingError
		require.ErrorAs(t, err, &mapErr)
		assert.Equal(t, 1, mapErr.Index)
		assert.ErrorIs(t, err, ErrMapping)
		assert.True(t, IsWorkflowError(err))
	})

	t.Run("empty input", func(t *testing.T) {
		got, err := m.MapMany(nil)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestCanonicalTargetRecord_JSON(t *testing.T) {
	rec := CanonicalTargetRecord{DisplayName: "X", Type: CustomerTypeCompany, TaxLiable: true}
	assert.Equal(t,
		`{"displayName":"X","type":"Company","addressLine1":"","city":"","state":"","country":"","postalCode":"","phoneNumber":"","email":"","website":"","taxLiable":true}`,
		rec.JSON())
}
