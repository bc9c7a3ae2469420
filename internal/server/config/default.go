package config

import (
	"time"

	"github.com/yndnr/jalsync-go/internal/core/service"
	"github.com/yndnr/jalsync-go/internal/protocol/wire"
	"github.com/yndnr/jalsync-go/internal/storage"
)

// Default configuration values.
const (
	DefaultChannelAddr = "127.0.0.1:1234"
	DefaultHTTPAddr    = "127.0.0.1:5080"

	DefaultDataDir   = "/var/lib/jalsync/state"
	DefaultRecordDir = "/var/lib/jalsync/records"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			Channel: ChannelConfig{
				Enabled:      true,
				Addr:         DefaultChannelAddr,
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 30 * time.Second,
			},
			HTTP: HTTPConfig{
				Enabled:     true,
				Addr:        DefaultHTTPAddr,
				PollWait:    5 * time.Second,
				IdleTimeout: 2 * time.Minute,
				RateLimit:   50,
				RateBurst:   100,
			},
		},
		Session: SessionSection{
			Scope:           "peer",
			Roles:           []string{"publisher", "subscriber"},
			RecordTypes:     []string{"journal", "audit", "log"},
			Modes:           []string{"live", "archive"},
			Digests:         []string{wire.DefaultDigest},
			XMLCompressions: []string{wire.DefaultXMLCompression},
			ConfigureDigest: []string{wire.ConfigureDigestOn, wire.ConfigureDigestOff},
			AdmissionBurst:  1,
			ResponseTimeout: service.DefaultResponseTimeout,
			PollInterval:    service.DefaultPollInterval,
			CloseGrace:      service.DefaultCloseGrace,
		},
		Ledger: LedgerSection{
			MaxPending:     service.DefaultMaxPending,
			PendingTimeout: service.DefaultPendingTimeout,
		},
		Storage: StorageSection{
			DataDir:   DefaultDataDir,
			RecordDir: DefaultRecordDir,
			Engine:    storage.EngineBadger,
			Badger:    storage.DefaultBadgerConfig(),
			SQLite:    storage.DefaultSQLiteConfig(),
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
