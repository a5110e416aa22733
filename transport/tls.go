package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strings"
)

const tlsScheme = "tcps://"

// TLSConfig holds the material for the tls transport. CAFile is used to
// verify peers; when RequireClientAuth is set, listeners demand and verify
// client certificates against the same bundle (mutual auth).
type TLSConfig struct {
	CertFile          string
	KeyFile           string
	CAFile            string
	RequireClientAuth bool
	// InsecureSkipVerify disables server verification on outbound dials;
	// development only.
	InsecureSkipVerify bool
}

// TLSTransport dials and listens on tcps:// endpoints.
type TLSTransport struct {
	clientConfig *tls.Config
	serverConfig *tls.Config
}

func NewTLSTransport(cfg TLSConfig) (*TLSTransport, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("unable to load keypair: %w", err)
	}

	var roots *x509.CertPool
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("unable to read CA bundle: %w", err)
		}
		roots = x509.NewCertPool()
		if !roots.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates parsed from %s", cfg.CAFile)
		}
	}

	clientAuth := tls.NoClientCert
	if cfg.RequireClientAuth {
		clientAuth = tls.RequireAndVerifyClientCert
	}

	return &TLSTransport{
		clientConfig: &tls.Config{
			Certificates:       []tls.Certificate{cert},
			RootCAs:            roots,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		},
		serverConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			ClientCAs:    roots,
			ClientAuth:   clientAuth,
		},
	}, nil
}

func (t *TLSTransport) Accepts(address string) bool {
	return strings.HasPrefix(address, tlsScheme)
}

func (t *TLSTransport) Connect(endpoint string) (Connection, error) {
	addr := strings.TrimPrefix(endpoint, tlsScheme)
	conn, err := tls.Dial("tcp", addr, t.clientConfig)
	if err != nil {
		return nil, &ConnectError{Endpoint: endpoint, Err: err}
	}
	version, err := negotiateOutbound(conn)
	if err != nil {
		conn.Close()
		return nil, &ConnectError{Endpoint: endpoint, Err: err}
	}
	return newFrameConn(conn, version, tlsScheme), nil
}

func (t *TLSTransport) Listen(bind string) (Listener, error) {
	addr := strings.TrimPrefix(bind, tlsScheme)
	inner, err := tls.Listen("tcp", addr, t.serverConfig)
	if err != nil {
		return nil, err
	}
	return &tlsListener{inner: inner}, nil
}

type tlsListener struct {
	inner net.Listener
}

func (l *tlsListener) Accept() (Connection, error) {
	conn, err := l.inner.Accept()
	if err != nil {
		return nil, err
	}
	version, err := negotiateInbound(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return newFrameConn(conn, version, tlsScheme), nil
}

func (l *tlsListener) Endpoint() string {
	return tlsScheme + l.inner.Addr().String()
}

func (l *tlsListener) Close() error {
	return l.inner.Close()
}
