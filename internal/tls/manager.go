package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/acme/autocert"

	"access-service/internal/config"
	"access-service/internal/util"
)

var errNoCertificate = errors.New("no certificate configured")

// TLSManager picks the serving certificate: ACME when AutoCert is on, then
// the configured key pair, then (outside production) a self-signed one.
type TLSManager struct {
	server     config.ServerConfig
	production bool
	autoCert   *autocert.Manager

	mu       sync.Mutex
	fileCert *tls.Certificate
	devCert  *tls.Certificate
}

func NewTLSManager(cfg *config.Config) *TLSManager {
	m := &TLSManager{
		server:     cfg.Server,
		production: cfg.IsProduction(),
	}
	if cfg.Server.EnableTLS && cfg.Server.AutoCert {
		m.setupAutoCert()
	}
	return m
}

func (m *TLSManager) setupAutoCert() {
	if err := os.MkdirAll(m.server.AutoCertDir, 0o700); err != nil {
		util.Warn("Could not create autocert directory", util.ErrorField(err))
		return
	}

	m.autoCert = &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(m.server.Domain),
		Cache:      autocert.DirCache(m.server.AutoCertDir),
		Email:      m.server.Email,
	}

	util.Info("AutoCert configured",
		util.String("domain", m.server.Domain),
		util.String("cache_dir", m.server.AutoCertDir))
}

func (m *TLSManager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if m.autoCert != nil {
		cert, err := m.autoCert.GetCertificate(hello)
		if err == nil {
			return cert, nil
		}
		util.Warn("AutoCert lookup failed", util.String("server_name", hello.ServerName), util.ErrorField(err))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.server.CertFile != "" && m.server.KeyFile != "" {
		if m.fileCert == nil {
			cert, err := tls.LoadX509KeyPair(m.server.CertFile, m.server.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load key pair: %w", err)
			}
			m.fileCert = &cert
		}
		return m.fileCert, nil
	}

	if m.production {
		return nil, errNoCertificate
	}
	if m.devCert == nil {
		cert, err := m.generateSelfSignedCert()
		if err != nil {
			return nil, err
		}
		m.devCert = cert
	}
	return m.devCert, nil
}

func (m *TLSManager) generateSelfSignedCert() (*tls.Certificate, error) {
	hosts := []string{m.server.Domain, "localhost", "127.0.0.1", "::1"}
	cert, err := NewDevCertGenerator(m.server.AutoCertDir).GenerateCert(hosts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
	}
	return &cert, nil
}

func (m *TLSManager) GetTLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: m.GetCertificate,
		NextProtos:     []string{"h2", "http/1.1"},
		MinVersion:     tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		},
	}
}

// GetAutocertManager is nil unless AutoCert is enabled.
func (m *TLSManager) GetAutocertManager() *autocert.Manager {
	return m.autoCert
}
