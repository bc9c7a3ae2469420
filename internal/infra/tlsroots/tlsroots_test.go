package tlsroots

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type testCA struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
	pem  []byte
}

func newTestCA(t *testing.T) *testCA {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "jalsync test ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	cert, _ := x509.ParseCertificate(der)
	return &testCA{cert: cert, key: key, pem: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})}
}

// issue writes a leaf for cn under dir and returns the cert and key paths.
func (ca *testCA) issue(t *testing.T, dir, cn string, serial int64) (string, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      pkix.Name{CommonName: cn},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Duration(serial) * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.cert, &key.PublicKey, ca.key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	certFile := filepath.Join(dir, cn+".crt")
	keyFile := filepath.Join(dir, cn+".key")
	writeAtomic(t, certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
	writeAtomic(t, keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}))
	return certFile, keyFile
}

func writeAtomic(t *testing.T, path string, data []byte) {
	t.Helper()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
}

func TestLoadPool(t *testing.T) {
	dir := t.TempDir()
	ca := newTestCA(t)

	sys, err := LoadPool("")
	if err != nil {
		t.Fatalf("LoadPool(\"\") error = %v", err)
	}
	if sys.Added() != 0 {
		t.Errorf("system pool Added() = %d, want 0", sys.Added())
	}

	caFile := filepath.Join(dir, "ca.pem")
	writeAtomic(t, caFile, append(append([]byte("junk\n"), ca.pem...), ca.pem...))
	p, err := LoadPool(caFile)
	if err != nil {
		t.Fatalf("LoadPool() error = %v", err)
	}
	if p.Added() != 2 {
		t.Errorf("Added() = %d, want 2", p.Added())
	}

	if _, err := LoadPool(filepath.Join(dir, "missing.pem")); err == nil {
		t.Error("LoadPool(missing) expected error")
	}
}

func TestAddCertPEM_Errors(t *testing.T) {
	p := NewEmptyPool()
	if err := p.AddCertPEM([]byte("not pem")); !errors.Is(err, ErrNoCertsFound) {
		t.Errorf("AddCertPEM(garbage) = %v, want ErrNoCertsFound", err)
	}
	bad := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte("nope")})
	if err := p.AddCertPEM(bad); err == nil {
		t.Error("AddCertPEM(bad cert) expected error")
	}
}

func TestServerConfig(t *testing.T) {
	dir := t.TempDir()
	ca := newTestCA(t)
	certFile, keyFile := ca.issue(t, dir, "server", 10)
	w, err := NewWatcher(certFile, keyFile)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := ServerConfig(NewPool(), nil); !errors.Is(err, ErrNoCertificate) {
		t.Errorf("ServerConfig(nil watcher) = %v, want ErrNoCertificate", err)
	}

	cfg, err := ServerConfig(NewPool(), w)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ClientAuth != tls.NoClientCert {
		t.Errorf("system roots: ClientAuth = %v, want NoClientCert", cfg.ClientAuth)
	}

	caPool := NewEmptyPool()
	if err := caPool.AddCertPEM(ca.pem); err != nil {
		t.Fatal(err)
	}
	cfg, err = ServerConfig(caPool, w)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ClientAuth != tls.RequireAndVerifyClientCert {
		t.Errorf("explicit CA: ClientAuth = %v, want RequireAndVerifyClientCert", cfg.ClientAuth)
	}
}

func TestMutualTLSPeerName(t *testing.T) {
	dir := t.TempDir()
	ca := newTestCA(t)
	pool := NewEmptyPool()
	if err := pool.AddCertPEM(ca.pem); err != nil {
		t.Fatal(err)
	}
	sc, sk := ca.issue(t, dir, "localhost", 10)
	cc, ck := ca.issue(t, dir, "publisher-7", 11)
	serverCerts, err := NewWatcher(sc, sk)
	if err != nil {
		t.Fatal(err)
	}
	clientCerts, err := NewWatcher(cc, ck)
	if err != nil {
		t.Fatal(err)
	}

	scfg, err := ServerConfig(pool, serverCerts)
	if err != nil {
		t.Fatal(err)
	}
	ccfg := ClientConfig(pool, clientCerts)
	ccfg.ServerName = "localhost"

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	srv := tls.Server(a, scfg)
	cli := tls.Client(b, ccfg)

	errc := make(chan error, 1)
	go func() { errc <- cli.Handshake() }()
	if err := srv.Handshake(); err != nil {
		t.Fatalf("server handshake: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("client handshake: %v", err)
	}

	cs := srv.ConnectionState()
	if got := PeerName(&cs); got != "publisher-7" {
		t.Errorf("PeerName() = %q, want publisher-7", got)
	}
	if got := PeerName(nil); got != "" {
		t.Errorf("PeerName(nil) = %q, want empty", got)
	}
}

func TestWatcher_ReloadOnChange(t *testing.T) {
	dir := t.TempDir()
	ca := newTestCA(t)
	certFile, keyFile := ca.issue(t, dir, "node", 5)

	reloaded := make(chan time.Time, 4)
	w, err := NewWatcher(certFile, keyFile,
		WithDebounce(20*time.Millisecond),
		WithOnReload(func(na time.Time) { reloaded <- na }),
	)
	if err != nil {
		t.Fatal(err)
	}
	first := <-reloaded
	if !w.NotAfter().Equal(first) {
		t.Fatalf("NotAfter() = %v, want %v", w.NotAfter(), first)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	// Same names, later expiry.
	ca.issue(t, dir, "node", 50)

	select {
	case na := <-reloaded:
		if !na.After(first) {
			t.Errorf("reloaded NotAfter %v not after %v", na, first)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("certificate was not reloaded")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() = %v", err)
	}
}

func TestNewWatcher_Errors(t *testing.T) {
	if _, err := NewWatcher("", ""); !errors.Is(err, ErrNoCertificate) {
		t.Errorf("NewWatcher(empty) = %v, want ErrNoCertificate", err)
	}
	dir := t.TempDir()
	if _, err := NewWatcher(filepath.Join(dir, "a.crt"), filepath.Join(dir, "a.key")); err == nil {
		t.Error("NewWatcher(missing files) expected error")
	}
}
