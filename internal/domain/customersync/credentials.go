package customersync

import (
	"errors"
	"strings"
)

// InstanceType selects the i95Dev environment a client is registered in.
type InstanceType string

const (
	InstanceTypeStaging    InstanceType = "Staging"
	InstanceTypeProduction InstanceType = "Production"
)

// IsValid reports whether the instance type is one of the known values.
func (t InstanceType) IsValid() bool {
	return t == InstanceTypeStaging || t == InstanceTypeProduction
}

// ParseInstanceType parses a case-insensitive instance type. An empty string
// yields Staging.
func ParseInstanceType(s string) (InstanceType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "staging":
		return InstanceTypeStaging, nil
	case "production":
		return InstanceTypeProduction, nil
	default:
		return "", ErrInvalidInstanceType
	}
}

const (
	// DefaultSourceBaseURL is the i95Dev cloud API used when none is configured.
	DefaultSourceBaseURL = "https://clouddev2api.i95-dev.com"
	// DefaultEnvironment is the Business Central environment used when none is configured.
	DefaultEnvironment = "N8N"
	// DefaultPacketSize is the number of records requested per pull.
	DefaultPacketSize = 5
)

// Credential validation errors
var (
	ErrMissingBaseURL         = errors.New("customersync: source base URL is required")
	ErrMissingRefreshToken    = errors.New("customersync: refresh token is required")
	ErrMissingClientID        = errors.New("customersync: client id is required")
	ErrMissingSubscriptionKey = errors.New("customersync: subscription key is required")
	ErrMissingEndpointCode    = errors.New("customersync: source endpoint code is required")
	ErrMissingEndpointCodeBC  = errors.New("customersync: target endpoint code is required")
	ErrMissingTenantID        = errors.New("customersync: target tenant id is required")
	ErrMissingTargetClient    = errors.New("customersync: target client id and secret are required")
	ErrInvalidInstanceType    = errors.New("customersync: instance type must be Staging or Production")
)

// Credentials bundles everything needed to talk to both systems for one run.
// Values are treated as read-only once a run starts.
type Credentials struct {
	BaseURL         string
	RefreshToken    string
	ClientID        string
	SubscriptionKey string
	InstanceType    InstanceType
	EndpointCode    string // source-side endpoint (e.g. the Magento store)
	EndpointCodeBC  string // target-side endpoint registered for Business Central

	TenantID       string
	ClientIDBC     string
	ClientSecretBC string
	Environment    string
}

// WithDefaults returns a copy with empty optional fields filled in.
func (c Credentials) WithDefaults() Credentials {
	if c.BaseURL == "" {
		c.BaseURL = DefaultSourceBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.InstanceType == "" {
		c.InstanceType = InstanceTypeStaging
	}
	if c.Environment == "" {
		c.Environment = DefaultEnvironment
	}
	return c
}

// Validate checks that all required fields are present.
func (c Credentials) Validate() error {
	if c.BaseURL == "" {
		return ErrMissingBaseURL
	}
	if c.RefreshToken == "" {
		return ErrMissingRefreshToken
	}
	if c.ClientID == "" {
		return ErrMissingClientID
	}
	if c.SubscriptionKey == "" {
		return ErrMissingSubscriptionKey
	}
	if !c.InstanceType.IsValid() {
		return ErrInvalidInstanceType
	}
	if c.EndpointCode == "" {
		return ErrMissingEndpointCode
	}
	if c.EndpointCodeBC == "" {
		return ErrMissingEndpointCodeBC
	}
	if c.TenantID == "" {
		return ErrMissingTenantID
	}
	if c.ClientIDBC == "" || c.ClientSecretBC == "" {
		return ErrMissingTargetClient
	}
	return nil
}

// RunKey identifies the client/endpoint pair a batch runs for.
func (c Credentials) RunKey() string {
	return "customer-sync:" + c.ClientID + ":" + c.EndpointCodeBC
}
