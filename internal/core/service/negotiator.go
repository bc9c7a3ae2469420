package service

import (
	"context"
	"log/slog"
	"slices"

	"github.com/yndnr/jalsync-go/internal/core/domain"
	"github.com/yndnr/jalsync-go/internal/protocol/digest"
	"github.com/yndnr/jalsync-go/internal/protocol/wire"
)

// NegotiationState is the state of one negotiation attempt.
type NegotiationState uint8

const (
	StateIdle NegotiationState = iota
	StateAwaitingPeerOffer
	StateOfferSent
	StateNegotiated
	StateEstablished
	StateRejected
)

func (s NegotiationState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingPeerOffer:
		return "awaiting-peer-offer"
	case StateOfferSent:
		return "offer-sent"
	case StateNegotiated:
		return "negotiated"
	case StateEstablished:
		return "established"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// RejectedError carries every reason an offer was refused.
type RejectedError struct {
	Reasons []domain.RejectionReason
}

func (e *RejectedError) Error() string {
	return domain.ErrNegotiationRejected.WithDetails(domain.JoinReasons(e.Reasons)).Error()
}

func (e *RejectedError) Unwrap() error {
	return domain.ErrNegotiationRejected
}

// NegotiatorConfig holds the local allow-lists, each ordered by preference.
type NegotiatorConfig struct {
	Roles           []domain.Role
	RecordTypes     []domain.RecordType
	Modes           []domain.Mode
	Digests         []string
	XMLCompressions []string
	ConfigureDigest []string

	Version            string
	Agent              string
	PublisherID        string
	RequirePublisherID bool
}

// DefaultNegotiatorConfig allows every role, record type and mode with the
// default digest and no XML compression.
func DefaultNegotiatorConfig() NegotiatorConfig {
	return NegotiatorConfig{
		Roles:           []domain.Role{domain.RolePublisher, domain.RoleSubscriber},
		RecordTypes:     slices.Clone(domain.AllRecordTypes),
		Modes:           []domain.Mode{domain.ModeLive, domain.ModeArchive},
		Digests:         []string{wire.DefaultDigest},
		XMLCompressions: []string{wire.DefaultXMLCompression},
		ConfigureDigest: []string{wire.ConfigureDigestOn, wire.ConfigureDigestOff},
		Version:         wire.SupportedVersion,
	}
}

// NegotiatorOption configures a Negotiator.
type NegotiatorOption func(*Negotiator)

// WithAuthorizer sets the authorization decision point.
func WithAuthorizer(a Authorizer) NegotiatorOption {
	return func(n *Negotiator) { n.authorizer = a }
}

// WithAdmissionLimiter throttles initialize attempts per peer.
func WithAdmissionLimiter(l *AdmissionLimiter) NegotiatorOption {
	return func(n *Negotiator) { n.limiter = l }
}

// WithResumeProvider lets a Subscriber listener offer journal resume.
func WithResumeProvider(p ResumeProvider) NegotiatorOption {
	return func(n *Negotiator) { n.resume = p }
}

// WithRejectHook is called with the reasons of every rejected attempt.
func WithRejectHook(fn func([]domain.RejectionReason)) NegotiatorOption {
	return func(n *Negotiator) { n.onReject = fn }
}

// WithNegotiatorLogger sets the logger.
func WithNegotiatorLogger(l *slog.Logger) NegotiatorOption {
	return func(n *Negotiator) { n.logger = l }
}

// Negotiator produces sessions from initialize exchanges.
type Negotiator struct {
	cfg        NegotiatorConfig
	algs       *digest.Registry
	registry   *SessionRegistry
	authorizer Authorizer
	limiter    *AdmissionLimiter
	resume     ResumeProvider
	onReject   func([]domain.RejectionReason)
	logger     *slog.Logger
}

// NewNegotiator creates a Negotiator. registry may be nil on a pure initiator.
func NewNegotiator(cfg NegotiatorConfig, algs *digest.Registry, registry *SessionRegistry, opts ...NegotiatorOption) *Negotiator {
	if algs == nil {
		algs = digest.Default()
	}
	if cfg.Version == "" {
		cfg.Version = wire.SupportedVersion
	}
	n := &Negotiator{
		cfg:        cfg,
		algs:       algs,
		registry:   registry,
		authorizer: AllowAll,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With("component", "negotiator")
	return n
}

// Config returns the allow-lists in use.
func (n *Negotiator) Config() NegotiatorConfig { return n.cfg }

// Outcome is the result of a successful negotiation.
type Outcome struct {
	Session *domain.Session
	// Reply is the ack a listener must send. Nil on the initiator side.
	Reply wire.Message
	// Resume is the journal record to continue, if any.
	Resume domain.ResumeState
	// Initiator is true on the side that sent the offer.
	Initiator bool
}

// Negotiation is one attempt to establish a session with a peer.
type Negotiation struct {
	n     *Negotiator
	peer  string
	kind  domain.TransportKind
	state NegotiationState
	offer *wire.Initialize
}

// Begin starts a negotiation attempt in the Idle state.
func (n *Negotiator) Begin(peer string, kind domain.TransportKind) *Negotiation {
	return &Negotiation{n: n, peer: peer, kind: kind, state: StateIdle}
}

// State returns the current state.
func (g *Negotiation) State() NegotiationState { return g.state }

// Listen moves an idle attempt to AwaitingPeerOffer.
func (g *Negotiation) Listen() error {
	if g.state != StateIdle {
		return domain.ErrNegotiationState.WithDetailsf("listen in state %s", g.state)
	}
	g.state = StateAwaitingPeerOffer
	return nil
}

// Accept evaluates a peer offer. On rejection it returns the nack to send
// together with a *RejectedError listing every violated constraint.
func (g *Negotiation) Accept(ctx context.Context, offer *wire.Initialize) (*Outcome, wire.Message, error) {
	if g.state == StateIdle {
		g.state = StateAwaitingPeerOffer
	}
	if g.state != StateAwaitingPeerOffer {
		return nil, nil, domain.ErrNegotiationState.WithDetailsf("accept in state %s", g.state)
	}
	n := g.n
	cfg := n.cfg
	var reasons []domain.RejectionReason
	reject := func(r domain.RejectionReason) {
		if !slices.Contains(reasons, r) {
			reasons = append(reasons, r)
		}
	}

	if offer.Version != cfg.Version {
		reject(domain.ReasonUnsupportedVersion)
	}

	localRole := offer.Role.Peer()
	switch {
	case offer.Role == domain.RoleUnknown || offer.Mode == domain.ModeUnknown:
		reject(domain.ReasonUnsupportedMode)
	case !slices.Contains(cfg.Roles, localRole):
		reject(domain.ReasonUnauthorizedMode)
	case !slices.Contains(cfg.Modes, offer.Mode):
		reject(domain.ReasonUnsupportedMode)
	}

	if offer.RecordType == domain.RecordTypeUnknown || !slices.Contains(cfg.RecordTypes, offer.RecordType) {
		reject(domain.ReasonUnsupportedRecordType)
	}

	dgst := g.pickDigest(offer.AcceptDigests)
	if dgst == "" {
		reject(domain.ReasonUnsupportedDigest)
	}
	xml := pick(offer.AcceptXMLCompressions, cfg.XMLCompressions)
	if xml == "" {
		reject(domain.ReasonUnsupportedXMLCompression)
	}
	confDigest := pick(offer.AcceptConfigureDigest, cfg.ConfigureDigest)
	if confDigest == "" {
		reject(domain.ReasonUnsupportedConfigureDigest)
	}

	if offer.Role == domain.RolePublisher && cfg.RequirePublisherID && offer.PublisherID == "" {
		reject(domain.ReasonInvalidPublisherID)
	}

	if offer.Role != domain.RoleUnknown && offer.RecordType != domain.RecordTypeUnknown {
		for _, r := range n.authorizer.Decide(ctx, offer.Role, offer.RecordType, g.peer) {
			reject(r)
		}
	}

	if len(reasons) == 0 && !n.limiter.Allow(g.peer) {
		reject(domain.ReasonSessionLimitExceeded)
	}

	if len(reasons) > 0 {
		return nil, &wire.InitializeNack{Reasons: reasons}, g.rejected(reasons)
	}
	g.state = StateNegotiated

	s, err := domain.NewSession(localRole, offer.RecordType, g.peer)
	if err != nil {
		return nil, nil, err
	}
	s.Mode = offer.Mode
	s.DigestAlgorithm = dgst
	s.XMLCompression = xml
	s.ConfigureDigest = confDigest == wire.ConfigureDigestOn
	s.PublisherID = offer.PublisherID
	s.Transport = g.kind

	out := &Outcome{Session: s}
	ack := &wire.InitializeAck{
		SessionID:       s.ID,
		Digest:          dgst,
		XMLCompression:  xml,
		ConfigureDigest: s.ConfigureDigest,
		Version:         cfg.Version,
		Agent:           cfg.Agent,
	}
	if rp := n.resume; rp != nil && localRole == domain.RoleSubscriber &&
		s.RecordType == domain.RecordTypeJournal && s.Mode == domain.ModeArchive {
		if id, off, prefix, ok := rp.ResumePoint(ctx, s); ok && off > 0 {
			out.Resume = domain.ResumeState{RecordID: id, Offset: off, Source: prefix}
			// A Publisher initiator learns the resume point from the ack;
			// a Subscriber initiator sends journal-resume itself.
			ack.ResumeID, ack.ResumeOffset = id, off
		}
	}
	out.Reply = ack

	if err := g.admit(s); err != nil {
		return nil, nil, err
	}
	n.logger.Info("session established",
		"session_id", s.ID,
		"peer", g.peer,
		"role", s.Role.String(),
		"record_type", s.RecordType.String(),
		"mode", s.Mode.String(),
		"digest", s.DigestAlgorithm,
		"transport", g.kind.String(),
	)
	return out, ack, nil
}

// Offer builds the initiator's initialize message for the local role.
func (g *Negotiation) Offer(role domain.Role, recordType domain.RecordType, mode domain.Mode) (*wire.Initialize, error) {
	if g.state != StateIdle {
		return nil, domain.ErrNegotiationState.WithDetailsf("offer in state %s", g.state)
	}
	cfg := g.n.cfg
	g.offer = &wire.Initialize{
		Role:                  role,
		Mode:                  mode,
		RecordType:            recordType,
		AcceptDigests:         slices.Clone(cfg.Digests),
		AcceptXMLCompressions: slices.Clone(cfg.XMLCompressions),
		AcceptConfigureDigest: slices.Clone(cfg.ConfigureDigest),
		Version:               cfg.Version,
		Agent:                 cfg.Agent,
	}
	if role == domain.RolePublisher {
		g.offer.PublisherID = cfg.PublisherID
	}
	g.state = StateOfferSent
	return g.offer, nil
}

// Complete applies the listener's reply to a sent offer.
func (g *Negotiation) Complete(ctx context.Context, reply wire.Message) (*Outcome, error) {
	if g.state != StateOfferSent {
		return nil, domain.ErrNegotiationState.WithDetailsf("complete in state %s", g.state)
	}
	switch m := reply.(type) {
	case *wire.InitializeNack:
		return nil, g.rejected(m.Reasons)
	case *wire.InitializeAck:
		var reasons []domain.RejectionReason
		if !slices.Contains(g.offer.AcceptDigests, m.Digest) || !g.n.algs.Supports(m.Digest) {
			reasons = append(reasons, domain.ReasonUnsupportedDigest)
		}
		if !slices.Contains(g.offer.AcceptXMLCompressions, m.XMLCompression) {
			reasons = append(reasons, domain.ReasonUnsupportedXMLCompression)
		}
		if !slices.Contains(g.offer.AcceptConfigureDigest, configureToken(m.ConfigureDigest)) {
			reasons = append(reasons, domain.ReasonUnsupportedConfigureDigest)
		}
		if len(reasons) > 0 {
			return nil, g.rejected(reasons)
		}
		g.state = StateNegotiated

		s, err := domain.NewSession(g.offer.Role, g.offer.RecordType, g.peer)
		if err != nil {
			return nil, err
		}
		s.ID = m.SessionID
		s.Mode = g.offer.Mode
		s.DigestAlgorithm = m.Digest
		s.XMLCompression = m.XMLCompression
		s.ConfigureDigest = m.ConfigureDigest
		s.PublisherID = g.offer.PublisherID
		s.Transport = g.kind

		out := &Outcome{Session: s, Initiator: true}
		if m.ResumeID != "" && m.ResumeOffset > 0 {
			out.Resume = domain.ResumeState{RecordID: m.ResumeID, Offset: m.ResumeOffset}
		}
		if err := g.admit(s); err != nil {
			return nil, err
		}
		return out, nil
	default:
		g.state = StateRejected
		return nil, wire.UnexpectedValue(wire.HeaderMessage, reply.Type())
	}
}

func (g *Negotiation) admit(s *domain.Session) error {
	if g.n.registry != nil {
		if _, err := g.n.registry.Admit(s); err != nil {
			g.state = StateRejected
			return err
		}
	}
	g.state = StateEstablished
	return nil
}

func (g *Negotiation) rejected(reasons []domain.RejectionReason) error {
	g.state = StateRejected
	g.n.logger.Warn("negotiation rejected", "peer", g.peer, "reasons", domain.JoinReasons(reasons))
	if g.n.onReject != nil {
		g.n.onReject(reasons)
	}
	return &RejectedError{Reasons: reasons}
}

// pickDigest returns the first offered digest allowed locally and known to
// the algorithm registry.
func (g *Negotiation) pickDigest(offered []string) string {
	for _, d := range offered {
		if slices.Contains(g.n.cfg.Digests, d) && g.n.algs.Supports(d) {
			return d
		}
	}
	return ""
}

// pick returns the first offered value present in allowed.
func pick(offered, allowed []string) string {
	for _, v := range offered {
		if slices.Contains(allowed, v) {
			return v
		}
	}
	return ""
}

func configureToken(on bool) string {
	if on {
		return wire.ConfigureDigestOn
	}
	return wire.ConfigureDigestOff
}
