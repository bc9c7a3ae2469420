package config

import (
	"time"

	"github.com/yndnr/jalsync-go/internal/storage"
)

// ServerConfig is the root configuration for jalsync-server.
type ServerConfig struct {
	Server   ServerSection   `koanf:"server"`
	Session  SessionSection  `koanf:"session"`
	Ledger   LedgerSection   `koanf:"ledger"`
	Storage  StorageSection  `koanf:"storage"`
	Security SecuritySection `koanf:"security"`
	Log      LogSection      `koanf:"log"`
}

// ServerSection configures the listeners.
type ServerSection struct {
	Channel ChannelConfig `koanf:"channel"`
	HTTP    HTTPConfig    `koanf:"http"`
	Admin   AdminConfig   `koanf:"admin"`
}

// ChannelConfig configures the framed TCP transport.
type ChannelConfig struct {
	Enabled      bool          `koanf:"enabled"`
	Addr         string        `koanf:"addr"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	// IdleTimeout of zero keeps idle connections open.
	IdleTimeout time.Duration `koanf:"idle_timeout"`
}

// HTTPConfig configures the HTTP listener. It serves the exchange
// endpoint, /metrics, /health and the admin RPC.
type HTTPConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`

	PollWait    time.Duration `koanf:"poll_wait"`
	IdleTimeout time.Duration `koanf:"idle_timeout"`

	// RateLimit is requests per second per client address; zero disables it.
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`
}

// AdminConfig restricts the admin RPC.
type AdminConfig struct {
	// AllowedNetworks lists CIDRs or IPs allowed to call the admin RPC. Empty
	// allows loopback only.
	AllowedNetworks []string `koanf:"allowed_networks"`
	// Token, when set, must be sent as a bearer token.
	Token string `koanf:"token"`
}

// SessionSection configures negotiation and session limits.
type SessionSection struct {
	// MaxConcurrent of zero means unlimited.
	MaxConcurrent int `koanf:"max_concurrent"`
	// Scope is "peer" or "global".
	Scope string `koanf:"scope"`

	Roles           []string `koanf:"roles"`
	RecordTypes     []string `koanf:"record_types"`
	Modes           []string `koanf:"modes"`
	Digests         []string `koanf:"digests"`
	XMLCompressions []string `koanf:"xml_compressions"`
	ConfigureDigest []string `koanf:"configure_digest"`

	PublisherID        string `koanf:"publisher_id"`
	RequirePublisherID bool   `koanf:"require_publisher_id"`

	// Peers restricts who may open sessions. Empty allows every peer.
	Peers []PeerRuleConfig `koanf:"peers"`

	// AdmissionRate is initialize attempts per second per peer; zero
	// disables throttling.
	AdmissionRate  float64 `koanf:"admission_rate"`
	AdmissionBurst int     `koanf:"admission_burst"`

	ResponseTimeout time.Duration `koanf:"response_timeout"`
	PollInterval    time.Duration `koanf:"poll_interval"`
	CloseGrace      time.Duration `koanf:"close_grace"`
}

// PeerRuleConfig grants peers in Networks (CIDRs or IPs) the listed roles
// and record types; empty lists allow all. Rules reload at runtime.
type PeerRuleConfig struct {
	Networks    []string `koanf:"networks"`
	Roles       []string `koanf:"roles"`
	RecordTypes []string `koanf:"record_types"`
}

// LedgerSection configures digest batching. Both values reload at runtime.
type LedgerSection struct {
	MaxPending     int           `koanf:"max_pending"`
	PendingTimeout time.Duration `koanf:"pending_timeout"`
}

// StorageSection configures persistent state and record directories.
type StorageSection struct {
	// DataDir holds the state store.
	DataDir  string `koanf:"data_dir"`
	InMemory bool   `koanf:"in_memory"`
	// Engine is "badger" or "sqlite".
	Engine string `koanf:"engine"`
	// RecordDir holds outgoing records and receives incoming ones.
	RecordDir string `koanf:"record_dir"`

	Badger storage.BadgerConfig `koanf:"badger"`
	SQLite storage.SQLiteConfig `koanf:"sqlite"`
}

// SecuritySection configures TLS for both listeners.
type SecuritySection struct {
	TLSCertFile string `koanf:"tls_cert_file"`
	TLSKeyFile  string `koanf:"tls_key_file"`
	// TLSCAFile enables client certificate verification.
	TLSCAFile string `koanf:"tls_ca_file"`
}

// LogSection configures logging. Level reloads at runtime.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}
