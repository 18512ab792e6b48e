// Package tak dials the persistent event stream connection to a TAK server
// over plain TCP or mutually-authenticated TLS.
package tak

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"time"
)

const dialTimeout = 10 * time.Second

// Dialer establishes connections to a single TAK endpoint. The scheme of the
// configured URL fixes the transport at startup; there is no renegotiation.
type Dialer struct {
	scheme    string
	address   string
	tlsConfig *tls.Config
}

// NewDialer parses a tcp:// or tls:// endpoint URL. For tls://, certFile and
// keyFile supply the client identity and caFile (optional) pins the server's
// CA; an empty caFile falls back to the system pool.
func NewDialer(endpoint, certFile, keyFile, caFile string) (*Dialer, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" || u.Port() == "" {
		return nil, fmt.Errorf("endpoint %q must include host and port", endpoint)
	}

	d := &Dialer{scheme: u.Scheme, address: u.Host}

	switch u.Scheme {
	case "tcp":
		return d, nil
	case "tls":
		cfg, err := buildTLSConfig(u.Hostname(), certFile, keyFile, caFile)
		if err != nil {
			return nil, err
		}
		d.tlsConfig = cfg
		return d, nil
	default:
		return nil, fmt.Errorf("endpoint %q: scheme must be tcp or tls", endpoint)
	}
}

// Address returns the host:port the dialer connects to.
func (d *Dialer) Address() string {
	return d.address
}

// Dial opens one connection to the endpoint.
func (d *Dialer) Dial(ctx context.Context) (io.WriteCloser, error) {
	nd := &net.Dialer{Timeout: dialTimeout}

	if d.scheme == "tls" {
		td := &tls.Dialer{NetDialer: nd, Config: d.tlsConfig}
		conn, err := td.DialContext(ctx, "tcp", d.address)
		if err != nil {
			return nil, fmt.Errorf("dial tls %s: %w", d.address, err)
		}
		return conn, nil
	}

	conn, err := nd.DialContext(ctx, "tcp", d.address)
	if err != nil {
		return nil, fmt.Errorf("dial tcp %s: %w", d.address, err)
	}
	return conn, nil
}

func buildTLSConfig(serverName, certFile, keyFile, caFile string) (*tls.Config, error) {
	if certFile == "" || keyFile == "" {
		return nil, fmt.Errorf("tls endpoint requires a client certificate and key")
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load client certificate: %w", err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ServerName:   serverName,
		MinVersion:   tls.VersionTLS12,
	}

	if caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read ca bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("ca bundle %s contains no certificates", caFile)
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}
