package tls

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// CertificateReloader serves a certificate pair from disk and reloads it
// when either file changes.
type CertificateReloader struct {
	certFile string
	keyFile  string
	logger   *slog.Logger

	mu       sync.RWMutex
	cert     *tls.Certificate
	certTime time.Time
	keyTime  time.Time
}

// NewCertificateReloader creates a reloader. Call Load before serving.
func NewCertificateReloader(certFile, keyFile string) *CertificateReloader {
	return &CertificateReloader{
		certFile: certFile,
		keyFile:  keyFile,
		logger:   slog.Default().With("component", "tls"),
	}
}

// Load reads and validates the certificate pair. On error the previously
// loaded certificate stays in use.
func (r *CertificateReloader) Load() error {
	certInfo, err := os.Stat(r.certFile)
	if err != nil {
		return fmt.Errorf("certificate file not found: %w", err)
	}
	keyInfo, err := os.Stat(r.keyFile)
	if err != nil {
		return fmt.Errorf("key file not found: %w", err)
	}

	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return fmt.Errorf("failed to load certificate: %w", err)
	}
	x, err := leaf(&cert)
	if err != nil {
		return err
	}
	if err := validateValidity(x, time.Now()); err != nil {
		return err
	}

	r.mu.Lock()
	r.cert = &cert
	r.certTime = certInfo.ModTime()
	r.keyTime = keyInfo.ModTime()
	r.mu.Unlock()

	if left := time.Until(x.NotAfter); left < expiryWarning {
		r.logger.Warn("Certificate expiring soon",
			"subject", x.Subject.CommonName,
			"expires_at", x.NotAfter.Format(time.RFC3339),
		)
	} else {
		r.logger.Info("Certificate loaded",
			"subject", x.Subject.CommonName,
			"issuer", x.Issuer.CommonName,
			"expires_at", x.NotAfter.Format(time.RFC3339),
		)
	}
	return nil
}

// GetCertificate implements tls.Config.GetCertificate.
func (r *CertificateReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cert == nil {
		return nil, fmt.Errorf("no certificate loaded")
	}
	return r.cert, nil
}

// Changed reports whether either file was modified since the last Load.
func (r *CertificateReloader) Changed() bool {
	certInfo, err := os.Stat(r.certFile)
	if err != nil {
		return false
	}
	keyInfo, err := os.Stat(r.keyFile)
	if err != nil {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return certInfo.ModTime().After(r.certTime) || keyInfo.ModTime().After(r.keyTime)
}

// Watch checks the files every interval and reloads changed pairs until
// ctx is done. A non-positive interval returns immediately.
func (r *CertificateReloader) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !r.Changed() {
				continue
			}
			if err := r.Load(); err != nil {
				r.logger.Error("Certificate reload failed, keeping current certificate",
					"cert_file", r.certFile,
					"error", err,
				)
			}
		}
	}
}
