/*
Package tls serves the proxy over HTTPS.

The certificate pair is read from disk by a CertificateReloader, which
checks the files periodically and swaps in a renewed certificate without a
restart:

	reloader := tls.NewCertificateReloader(cfg.CertFile, cfg.KeyFile, cfg.ReloadInterval, logger)
	if err := reloader.Start(ctx); err != nil {
		return err
	}

	tlsConfig, err := tls.ServerConfig(cfg, reloader)
	if err != nil {
		return err
	}
	httpServer.TLSConfig = tlsConfig

TLS 1.2 and 1.3 are supported; 1.3 is the default minimum. Cipher suites
can be restricted by name for TLS 1.2.
*/
package tls
