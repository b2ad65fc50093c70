package customersync

import "encoding/json"

// CustomerTypeCompany is the only customer type this sync creates.
const CustomerTypeCompany = "Company"

// CanonicalTargetRecord is the Business Central customer create request.
// Field order matches the serialized form sent to the API.
type CanonicalTargetRecord struct {
	DisplayName  string `json:"displayName"`
	Type         string `json:"type"`
	AddressLine1 string `json:"addressLine1"`
	City         string `json:"city"`
	State        string `json:"state"`
	Country      string `json:"country"`
	PostalCode   string `json:"postalCode"`
	PhoneNumber  string `json:"phoneNumber"`
	Email        string `json:"email"`
	Website      string `json:"website"`
	TaxLiable    bool   `json:"taxLiable"`
}

// JSON returns the serialized record. Marshalling a struct of strings and a
// bool cannot fail.
func (r CanonicalTargetRecord) JSON() string {
	b, _ := json.Marshal(r)
	return string(b)
}

// CreatedCustomer is the subset of the Business Central create response the
// sync reads.
type CreatedCustomer struct {
	ID          string          `json:"id"`
	Number      string          `json:"number"`
	DisplayName string          `json:"displayName"`
	Email       string          `json:"email"`
	Raw         json.RawMessage `json:"-"`
}

// TargetID is the customer number, falling back to the id.
func (c CreatedCustomer) TargetID() string {
	if c.Number != "" {
		return c.Number
	}
	return c.ID
}

// MarshalJSON echoes the full create response.
func (c CreatedCustomer) MarshalJSON() ([]byte, error) {
	if len(c.Raw) > 0 {
		return c.Raw, nil
	}
	type plain CreatedCustomer
	return json.Marshal(plain(c))
}
