package config

import (
	"context"

	"github.com/erp/bcsync/internal/domain/customersync"
)

// CredentialProvider serves the configured i95Dev and Business Central
// credentials. The instance type is parsed per call so a bad value surfaces
// as a run failure, not a startup crash.
type CredentialProvider struct {
	source SourceConfig
	target TargetConfig
}

var _ customersync.CredentialProvider = (*CredentialProvider)(nil)

// NewCredentialProvider creates a CredentialProvider from loaded configuration.
func NewCredentialProvider(cfg *Config) *CredentialProvider {
	return &CredentialProvider{source: cfg.Source, target: cfg.Target}
}

// Credentials implements customersync.CredentialProvider.
func (p *CredentialProvider) Credentials(_ context.Context) (customersync.Credentials, error) {
	instanceType, err := customersync.ParseInstanceType(p.source.InstanceType)
	if err != nil {
		return customersync.Credentials{}, err
	}
	return customersync.Credentials{
		BaseURL:         p.source.BaseURL,
		RefreshToken:    p.source.RefreshToken,
		ClientID:        p.source.ClientID,
		SubscriptionKey: p.source.SubscriptionKey,
		InstanceType:    instanceType,
		EndpointCode:    p.source.EndpointCode,
		EndpointCodeBC:  p.source.EndpointCodeBC,
		TenantID:        p.target.TenantID,
		ClientIDBC:      p.target.ClientID,
		ClientSecretBC:  p.target.ClientSecret,
		Environment:     p.target.Environment,
	}, nil
}
