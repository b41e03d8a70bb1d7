package cert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Manager owns the proxy CA and hands out per-host leaf certificates
// for TLS interception. Leafs are cached per host.
type Manager struct {
	ca    *x509.Certificate
	caKey *ecdsa.PrivateKey

	mu    sync.RWMutex
	certs map[string]*tls.Certificate

	caFile string
}

// NewManager loads the CA from caFile, generating and persisting a
// fresh one when none exists yet.
func NewManager(caFile string) (*Manager, error) {
	m := &Manager{
		certs:  make(map[string]*tls.Certificate),
		caFile: caFile,
	}

	if err := m.loadCA(); err != nil {
		if err := m.generateCA(); err != nil {
			return nil, fmt.Errorf("generating proxy ca: %w", err)
		}
	}

	return m, nil
}

func (m *Manager) keyFile() string {
	return filepath.Join(filepath.Dir(m.caFile), "ca-key.pem")
}

func (m *Manager) generateCA() error {
	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return err
	}

	ca := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().Unix()),
		Subject: pkix.Name{
			Organization: []string{"postcap proxy CA"},
			CommonName:   "postcap root CA",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		IsCA:                  true,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}

	caBytes, err := x509.CreateCertificate(rand.Reader, ca, ca, &caKey.PublicKey, caKey)
	if err != nil {
		return err
	}
	// the template lacks Raw and RawSubject; leaf chains and client
	// pools need the parsed form
	parsed, err := x509.ParseCertificate(caBytes)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(m.caFile), 0o755); err != nil {
		return err
	}
	if err := writePEM(m.caFile, "CERTIFICATE", caBytes); err != nil {
		return err
	}

	keyBytes, err := x509.MarshalECPrivateKey(caKey)
	if err != nil {
		return err
	}
	if err := writePEM(m.keyFile(), "EC PRIVATE KEY", keyBytes); err != nil {
		return err
	}

	m.ca = parsed
	m.caKey = caKey

	return nil
}

func writePEM(path, blockType string, der []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return pem.Encode(f, &pem.Block{Type: blockType, Bytes: der})
}

func (m *Manager) loadCA() error {
	certPEM, err := os.ReadFile(m.caFile)
	if err != nil {
		return err
	}
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return fmt.Errorf("no pem block in %s", m.caFile)
	}
	ca, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return err
	}

	keyPEM, err := os.ReadFile(m.keyFile())
	if err != nil {
		return err
	}
	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return fmt.Errorf("no pem block in %s", m.keyFile())
	}
	caKey, err := x509.ParseECPrivateKey(keyBlock.Bytes)
	if err != nil {
		return err
	}

	m.ca = ca
	m.caKey = caKey

	return nil
}

// Leaf returns the certificate for host, issuing and caching one on
// first use. host may be a dns name or an IP.
func (m *Manager) Leaf(host string) (*tls.Certificate, error) {
	m.mu.RLock()
	if cert, ok := m.certs[host]; ok {
		m.mu.RUnlock()
		return cert, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if cert, ok := m.certs[host]; ok {
		return cert, nil
	}

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"postcap proxy"},
			CommonName:   host,
		},
		NotBefore:   time.Now(),
		NotAfter:    time.Now().AddDate(1, 0, 0),
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	if ip := net.ParseIP(host); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{host}
	}

	certBytes, err := x509.CreateCertificate(rand.Reader, template, m.ca, &leafKey.PublicKey, m.caKey)
	if err != nil {
		return nil, err
	}

	cert := &tls.Certificate{
		Certificate: [][]byte{certBytes, m.ca.Raw},
		PrivateKey:  leafKey,
	}
	m.certs[host] = cert

	return cert, nil
}

// TLSConfig terminates TLS for host with a generated leaf.
func (m *Manager) TLSConfig(host string) (*tls.Config, error) {
	cert, err := m.Leaf(host)
	if err != nil {
		return nil, err
	}
	return &tls.Config{Certificates: []tls.Certificate{*cert}}, nil
}

// CAPath points clients at the certificate they need to trust.
func (m *Manager) CAPath() string {
	return m.caFile
}
