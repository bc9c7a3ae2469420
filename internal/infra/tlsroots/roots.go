package tlsroots

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

var (
	// ErrNoCertsFound is returned when PEM data holds no certificate.
	ErrNoCertsFound = errors.New("tlsroots: no certificates found in PEM data")
	// ErrNoCertificate is returned when TLS is requested without a
	// local certificate.
	ErrNoCertificate = errors.New("tlsroots: certificate and key are required")
)

// Pool holds the roots peers are verified against.
type Pool struct {
	certPool *x509.CertPool
	added    int
}

// NewPool creates a pool seeded with the system roots. Systems without a
// root store get an empty pool.
func NewPool() *Pool {
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	return &Pool{certPool: pool}
}

// NewEmptyPool creates a pool without system roots.
func NewEmptyPool() *Pool {
	return &Pool{certPool: x509.NewCertPool()}
}

// LoadPool returns the system roots when caFile is empty, and only the
// certificates in caFile otherwise.
func LoadPool(caFile string) (*Pool, error) {
	if caFile == "" {
		return NewPool(), nil
	}
	p := NewEmptyPool()
	if err := p.AddCertFile(caFile); err != nil {
		return nil, err
	}
	return p, nil
}

// AddCertFile adds every certificate in a PEM file.
func (p *Pool) AddCertFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("tlsroots: read CA file %s: %w", path, err)
	}
	return p.AddCertPEM(data)
}

// AddCertPEM adds every CERTIFICATE block in pemData. Other blocks are
// skipped.
func (p *Pool) AddCertPEM(pemData []byte) error {
	n := 0
	for len(pemData) > 0 {
		var block *pem.Block
		block, pemData = pem.Decode(pemData)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" || len(block.Headers) != 0 {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return fmt.Errorf("tlsroots: parse certificate: %w", err)
		}
		p.certPool.AddCert(cert)
		n++
	}
	if n == 0 {
		return ErrNoCertsFound
	}
	p.added += n
	return nil
}

// Added returns the number of certificates added beyond the system roots.
func (p *Pool) Added() int { return p.added }

// Pool returns the underlying x509.CertPool.
func (p *Pool) Pool() *x509.CertPool {
	return p.certPool
}

// ServerConfig builds a listener config serving the watched certificate.
// When the pool carries explicit roots, peers must present a certificate
// signed by one of them.
func ServerConfig(p *Pool, certs *Watcher) (*tls.Config, error) {
	if certs == nil {
		return nil, ErrNoCertificate
	}
	cfg := &tls.Config{
		GetCertificate: certs.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}
	if p != nil && p.Added() > 0 {
		cfg.ClientCAs = p.Pool()
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}

// ClientConfig builds a dialer config. certs may be nil when the peer does
// not ask for a client certificate.
func ClientConfig(p *Pool, certs *Watcher) *tls.Config {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if p != nil {
		cfg.RootCAs = p.Pool()
	}
	if certs != nil {
		cfg.GetClientCertificate = certs.GetClientCertificate
	}
	return cfg
}

// PeerName returns the common name of a verified peer certificate, or ""
// when the connection carried none.
func PeerName(cs *tls.ConnectionState) string {
	if cs == nil || len(cs.VerifiedChains) == 0 || len(cs.VerifiedChains[0]) == 0 {
		return ""
	}
	return cs.VerifiedChains[0][0].Subject.CommonName
}
