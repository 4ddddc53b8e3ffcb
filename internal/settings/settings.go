// Package settings models the persisted custom-domain configuration: one
// primary domain slot plus a list of additional domains. The store is the
// source of truth once the tracker's transition window has passed.
package settings

import (
	"context"
	"errors"
	"time"
)

// ErrSettingsNotFound is returned when the settings row has not been created.
var ErrSettingsNotFound = errors.New("settings not found")

// AdditionalDomain is one entry of the additional-domains list.
type AdditionalDomain struct {
	Domain            string    `json:"domain"`
	CNAMETarget       string    `json:"cnameTarget,omitempty"`
	VerificationToken string    `json:"verificationToken,omitempty"`
	Verified          bool      `json:"verified"`
	AddedAt           time.Time `json:"addedAt"`
	// NeedsMigration marks an entry decoded from the legacy bare-string
	// format. It has no token or target until it is re-registered.
	NeedsMigration bool `json:"needsMigration,omitempty"`
}

// DomainConfig is the persisted domain configuration.
type DomainConfig struct {
	CustomDomain            string             `json:"customDomain"`
	DomainCNAMETarget       string             `json:"domainCnameTarget"`
	DomainVerificationToken string             `json:"domainVerificationToken"`
	DomainVerified          bool               `json:"domainVerified"`
	UseCustomDomain         bool               `json:"useCustomDomain"`
	AdditionalDomains       []AdditionalDomain `json:"additionalDomains"`
	UpdatedAt               time.Time          `json:"updatedAt"`
}

// Additional returns a pointer to the additional entry for domain, or nil.
func (c *DomainConfig) Additional(domain string) *AdditionalDomain {
	for i := range c.AdditionalDomains {
		if c.AdditionalDomains[i].Domain == domain {
			return &c.AdditionalDomains[i]
		}
	}
	return nil
}

// RemoveAdditional deletes the additional entry for domain and reports
// whether one existed.
func (c *DomainConfig) RemoveAdditional(domain string) bool {
	for i := range c.AdditionalDomains {
		if c.AdditionalDomains[i].Domain == domain {
			c.AdditionalDomains = append(c.AdditionalDomains[:i], c.AdditionalDomains[i+1:]...)
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (c *DomainConfig) Clone() *DomainConfig {
	cp := *c
	cp.AdditionalDomains = append([]AdditionalDomain(nil), c.AdditionalDomains...)
	if cp.AdditionalDomains == nil {
		cp.AdditionalDomains = []AdditionalDomain{}
	}
	return &cp
}

// Update is a partial settings write. Nil fields are left unchanged.
type Update struct {
	CustomDomain            *string
	DomainCNAMETarget       *string
	DomainVerificationToken *string
	DomainVerified          *bool
	UseCustomDomain         *bool
	AdditionalDomains       []AdditionalDomain // nil leaves the list unchanged
}

// Apply copies the non-nil fields of u onto c.
func (u Update) Apply(c *DomainConfig) {
	if u.CustomDomain != nil {
		c.CustomDomain = *u.CustomDomain
	}
	if u.DomainCNAMETarget != nil {
		c.DomainCNAMETarget = *u.DomainCNAMETarget
	}
	if u.DomainVerificationToken != nil {
		c.DomainVerificationToken = *u.DomainVerificationToken
	}
	if u.DomainVerified != nil {
		c.DomainVerified = *u.DomainVerified
	}
	if u.UseCustomDomain != nil {
		c.UseCustomDomain = *u.UseCustomDomain
	}
	if u.AdditionalDomains != nil {
		c.AdditionalDomains = append([]AdditionalDomain(nil), u.AdditionalDomains...)
	}
}

// Store reads and writes the domain configuration.
type Store interface {
	GetSettings(ctx context.Context) (*DomainConfig, error)
	// UpdateSettings applies a partial write and returns the new config.
	UpdateSettings(ctx context.Context, u Update) (*DomainConfig, error)
	// Mutate runs fn against the current config while holding the store's
	// write lock and persists the result if fn returns nil. It is the
	// compare-and-swap used by every read-modify-write of the domain list.
	Mutate(ctx context.Context, fn func(*DomainConfig) error) (*DomainConfig, error)
}

// String returns a pointer to s, for building an Update.
func String(s string) *string { return &s }

// Bool returns a pointer to b, for building an Update.
func Bool(b bool) *bool { return &b }
