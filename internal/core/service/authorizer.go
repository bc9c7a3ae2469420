package service

import (
	"context"
	"net"
	"net/netip"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/yndnr/jalsync-go/internal/core/domain"
)

// PeerRule grants the peers in Networks the listed roles and record types.
// An empty Roles or RecordTypes list allows all of them.
type PeerRule struct {
	Networks    []string
	Roles       []domain.Role
	RecordTypes []domain.RecordType
}

type compiledRule struct {
	prefixes    []netip.Prefix
	roles       []domain.Role
	recordTypes []domain.RecordType
}

// PeerAuthorizer admits sessions by the peer's network address. The first
// rule whose networks contain the peer decides; a peer no rule matches is
// refused. Without rules every peer is allowed.
type PeerAuthorizer struct {
	rules atomic.Pointer[[]compiledRule]
}

// NewPeerAuthorizer compiles rules. Each network is a CIDR or a single IP.
func NewPeerAuthorizer(rules []PeerRule) (*PeerAuthorizer, error) {
	a := &PeerAuthorizer{}
	if err := a.SetRules(rules); err != nil {
		return nil, err
	}
	return a, nil
}

// SetRules replaces the rules. On error the previous rules stay in effect.
func (a *PeerAuthorizer) SetRules(rules []PeerRule) error {
	compiled := make([]compiledRule, 0, len(rules))
	for i, r := range rules {
		if len(r.Networks) == 0 {
			return domain.ErrInvalidArgument.WithDetailsf("peer rule %d has no networks", i)
		}
		cr := compiledRule{roles: r.Roles, recordTypes: r.RecordTypes}
		for _, n := range r.Networks {
			p, err := ParseNetwork(n)
			if err != nil {
				return err
			}
			cr.prefixes = append(cr.prefixes, p)
		}
		compiled = append(compiled, cr)
	}
	a.rules.Store(&compiled)
	return nil
}

// ParseNetwork parses a CIDR or a single IP address.
func ParseNetwork(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, domain.ErrInvalidArgument.WithDetailsf("network %q", s).WithCause(err)
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, domain.ErrInvalidArgument.WithDetailsf("network %q", s).WithCause(err)
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// Decide implements Authorizer. role is the role the peer offers.
func (a *PeerAuthorizer) Decide(_ context.Context, role domain.Role, recordType domain.RecordType, peer string) []domain.RejectionReason {
	rules := *a.rules.Load()
	if len(rules) == 0 {
		return nil
	}
	addr, ok := peerAddr(peer)
	if !ok {
		return []domain.RejectionReason{domain.ReasonUnauthorizedMode, domain.ReasonUnauthorizedRecordType}
	}
	for _, r := range rules {
		if !slices.ContainsFunc(r.prefixes, func(p netip.Prefix) bool { return p.Contains(addr) }) {
			continue
		}
		var reasons []domain.RejectionReason
		if len(r.roles) > 0 && !slices.Contains(r.roles, role) {
			reasons = append(reasons, domain.ReasonUnauthorizedMode)
		}
		if len(r.recordTypes) > 0 && !slices.Contains(r.recordTypes, recordType) {
			reasons = append(reasons, domain.ReasonUnauthorizedRecordType)
		}
		return reasons
	}
	return []domain.RejectionReason{domain.ReasonUnauthorizedMode, domain.ReasonUnauthorizedRecordType}
}

// peerAddr extracts the IP from "host:port" or a bare address.
func peerAddr(peer string) (netip.Addr, bool) {
	host := peer
	if h, _, err := net.SplitHostPort(peer); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

var _ Authorizer = (*PeerAuthorizer)(nil)
