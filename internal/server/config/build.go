package config

import (
	"fmt"

	"github.com/yndnr/jalsync-go/internal/core/domain"
	"github.com/yndnr/jalsync-go/internal/core/service"
	"github.com/yndnr/jalsync-go/internal/infra/buildinfo"
	"github.com/yndnr/jalsync-go/internal/protocol/wire"
)

// NegotiatorConfig converts the session allow-lists. The config must have
// passed Verify.
func (c *SessionSection) NegotiatorConfig() service.NegotiatorConfig {
	roles, _ := parseList(c.Roles, domain.ParseRole)
	types, _ := parseList(c.RecordTypes, domain.ParseRecordType)
	modes, _ := parseList(c.Modes, domain.ParseMode)
	return service.NegotiatorConfig{
		Roles:              roles,
		RecordTypes:        types,
		Modes:              modes,
		Digests:            c.Digests,
		XMLCompressions:    c.XMLCompressions,
		ConfigureDigest:    c.ConfigureDigest,
		Version:            wire.SupportedVersion,
		Agent:              buildinfo.Agent(),
		PublisherID:        c.PublisherID,
		RequirePublisherID: c.RequirePublisherID,
	}
}

// RegistryScope returns the parsed scope. The config must have passed Verify.
func (c *SessionSection) RegistryScope() service.RegistryScope {
	scope, _ := service.ParseRegistryScope(c.Scope)
	return scope
}

// PeerRules converts the peer rules.
func (c *SessionSection) PeerRules() ([]service.PeerRule, error) {
	rules := make([]service.PeerRule, 0, len(c.Peers))
	for i, p := range c.Peers {
		r := service.PeerRule{Networks: p.Networks}
		for _, s := range p.Roles {
			role, err := domain.ParseRole(s)
			if err != nil {
				return nil, fmt.Errorf("peers[%d].roles: %w", i, err)
			}
			r.Roles = append(r.Roles, role)
		}
		for _, s := range p.RecordTypes {
			rt, err := domain.ParseRecordType(s)
			if err != nil {
				return nil, fmt.Errorf("peers[%d].record_types: %w", i, err)
			}
			r.RecordTypes = append(r.RecordTypes, rt)
		}
		rules = append(rules, r)
	}
	return rules, nil
}
