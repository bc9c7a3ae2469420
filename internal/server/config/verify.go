package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/yndnr/jalsync-go/internal/core/domain"
	"github.com/yndnr/jalsync-go/internal/core/service"
	"github.com/yndnr/jalsync-go/internal/protocol/digest"
	"github.com/yndnr/jalsync-go/internal/protocol/wire"
	"github.com/yndnr/jalsync-go/internal/storage"
)

// Verify validates the configuration and reports every problem found.
func Verify(cfg *ServerConfig) error {
	return errors.Join(
		verifyServer(&cfg.Server),
		verifySession(&cfg.Session),
		verifyLedger(&cfg.Ledger),
		verifyStorage(&cfg.Storage),
		verifySecurity(&cfg.Security),
		verifyLog(&cfg.Log),
	)
}

func verifyServer(cfg *ServerSection) error {
	var errs []error
	if !cfg.Channel.Enabled && !cfg.HTTP.Enabled {
		errs = append(errs, errors.New("server: at least one of channel and http must be enabled"))
	}
	if cfg.Channel.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Channel.Addr); err != nil {
			errs = append(errs, fmt.Errorf("server.channel.addr: %w", err))
		}
	}
	if cfg.HTTP.Enabled {
		if _, _, err := net.SplitHostPort(cfg.HTTP.Addr); err != nil {
			errs = append(errs, fmt.Errorf("server.http.addr: %w", err))
		}
		if cfg.HTTP.RateLimit < 0 {
			errs = append(errs, errors.New("server.http.rate_limit must not be negative"))
		}
	}
	if cfg.Channel.Enabled && cfg.HTTP.Enabled && cfg.Channel.Addr == cfg.HTTP.Addr {
		errs = append(errs, fmt.Errorf("server: channel and http share address %s", cfg.HTTP.Addr))
	}
	for _, n := range cfg.Admin.AllowedNetworks {
		if _, err := service.ParseNetwork(n); err != nil {
			errs = append(errs, fmt.Errorf("server.admin.allowed_networks: %w", err))
		}
	}
	return errors.Join(errs...)
}

func verifySession(cfg *SessionSection) error {
	var errs []error
	if cfg.MaxConcurrent < 0 {
		errs = append(errs, errors.New("session.max_concurrent must not be negative"))
	}
	if _, err := service.ParseRegistryScope(cfg.Scope); err != nil {
		errs = append(errs, fmt.Errorf("session.scope: %w", err))
	}
	if _, err := parseList(cfg.Roles, domain.ParseRole); err != nil {
		errs = append(errs, fmt.Errorf("session.roles: %w", err))
	}
	if _, err := parseList(cfg.RecordTypes, domain.ParseRecordType); err != nil {
		errs = append(errs, fmt.Errorf("session.record_types: %w", err))
	}
	if _, err := parseList(cfg.Modes, domain.ParseMode); err != nil {
		errs = append(errs, fmt.Errorf("session.modes: %w", err))
	}
	algs := digest.Default()
	for _, d := range cfg.Digests {
		if !algs.Supports(d) {
			errs = append(errs, fmt.Errorf("session.digests: unsupported digest %q", d))
		}
	}
	if len(cfg.Digests) == 0 {
		errs = append(errs, errors.New("session.digests must not be empty"))
	}
	for _, c := range cfg.ConfigureDigest {
		if c != wire.ConfigureDigestOn && c != wire.ConfigureDigestOff {
			errs = append(errs, fmt.Errorf("session.configure_digest: unknown value %q", c))
		}
	}
	if cfg.AdmissionRate < 0 {
		errs = append(errs, errors.New("session.admission_rate must not be negative"))
	}
	if rules, err := cfg.PeerRules(); err != nil {
		errs = append(errs, fmt.Errorf("session.%w", err))
	} else if _, err := service.NewPeerAuthorizer(rules); err != nil {
		errs = append(errs, fmt.Errorf("session.peers: %w", err))
	}
	return errors.Join(errs...)
}

func verifyLedger(cfg *LedgerSection) error {
	if cfg.MaxPending < 1 {
		return errors.New("ledger.max_pending must be at least 1")
	}
	if cfg.PendingTimeout <= 0 {
		return errors.New("ledger.pending_timeout must be positive")
	}
	return nil
}

func verifyStorage(cfg *StorageSection) error {
	if cfg.RecordDir == "" {
		return errors.New("storage.record_dir is required")
	}
	if err := os.MkdirAll(cfg.RecordDir, 0o750); err != nil {
		return fmt.Errorf("cannot create record directory: %w", err)
	}
	switch cfg.Engine {
	case "", storage.EngineBadger, storage.EngineSQLite:
	default:
		return fmt.Errorf("storage.engine: unknown engine %q", cfg.Engine)
	}
	if cfg.InMemory {
		return nil
	}
	if cfg.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("cannot create data directory: %w", err)
	}
	return nil
}

func verifySecurity(cfg *SecuritySection) error {
	if (cfg.TLSCertFile == "") != (cfg.TLSKeyFile == "") {
		return errors.New("security: tls_cert_file and tls_key_file must be set together")
	}
	if cfg.TLSCAFile != "" && cfg.TLSCertFile == "" {
		return errors.New("security.tls_ca_file requires a server certificate")
	}
	for _, f := range []string{cfg.TLSCertFile, cfg.TLSKeyFile, cfg.TLSCAFile} {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); err != nil {
			return fmt.Errorf("security: %w", err)
		}
	}
	return nil
}

func verifyLog(cfg *LogSection) error {
	switch strings.ToLower(cfg.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", cfg.Level)
	}
	switch strings.ToLower(cfg.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format: unknown format %q", cfg.Format)
	}
	return nil
}

func parseList[T any](in []string, parse func(string) (T, error)) ([]T, error) {
	if len(in) == 0 {
		return nil, errors.New("must not be empty")
	}
	out := make([]T, 0, len(in))
	for _, s := range in {
		v, err := parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
