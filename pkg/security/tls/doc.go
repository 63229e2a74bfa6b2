// Package tls builds the HTTPS configuration for the API server.
//
// ServerConfig loads the configured certificate through a
// CertificateReloader, so renewed certificates are picked up without a
// restart, and enables client certificate verification when a client CA is
// configured:
//
//	tlsCfg, reloader, err := tls.ServerConfig(&cfg.Server.TLS)
//	if err != nil {
//		return err
//	}
//	go reloader.Watch(ctx, cfg.Server.TLS.ReloadInterval)
package tls
