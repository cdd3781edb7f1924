package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"
)

const (
	alpn = "peerlink/direct"

	DefaultCertValidity = 24 * time.Hour
	DefaultIdleTimeout  = 30 * time.Second
	DefaultKeepAlive    = 10 * time.Second
)

var ErrKeepAliveTooLong = errors.New("transport: keep-alive must be shorter than the idle timeout")

// Options tunes a direct QUIC endpoint. Zero durations take the defaults.
type Options struct {
	// CertValidity bounds the lifetime of the throwaway certificate.
	CertValidity time.Duration
	IdleTimeout  time.Duration
	KeepAlive    time.Duration
	Logger       *logrus.Logger
	// Name goes into the certificate subject so a capture shows which peer
	// answered.
	Name string
}

func (o Options) withDefaults() Options {
	if o.CertValidity <= 0 {
		o.CertValidity = DefaultCertValidity
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	if o.KeepAlive <= 0 {
		o.KeepAlive = DefaultKeepAlive
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	if o.Name == "" {
		o.Name = "peer"
	}
	return o
}

// Validate reports settings QUIC would accept but that drop idle transfers.
func (o Options) Validate() error {
	o = o.withDefaults()
	if o.KeepAlive >= o.IdleTimeout {
		return fmt.Errorf("%w: %s >= %s", ErrKeepAliveTooLong, o.KeepAlive, o.IdleTimeout)
	}
	return nil
}

func (o Options) quicConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod: o.KeepAlive,
		MaxIdleTimeout:  o.IdleTimeout,
	}
}

// tlsConfig presents a fresh self-signed certificate. Neither side verifies
// the other; direct mode only relies on QUIC's transport encryption.
func (o Options) tlsConfig() (*tls.Config, error) {
	cert, err := selfSignedCert(o.Name, o.CertValidity)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: true,
		NextProtos:         []string{alpn},
	}, nil
}

func selfSignedCert(name string, validity time.Duration) (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, err
	}

	now := time.Now()
	template := x509.Certificate{
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		KeyUsage:     x509.KeyUsageDigitalSignature,
		NotAfter:     now.Add(validity),
		NotBefore:    now.Add(-time.Minute),
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: name, Organization: []string{"peerlink"}},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("creating certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return tls.Certificate{}, err
	}

	return tls.X509KeyPair(
		pem.EncodeToMemory(&pem.Block{Bytes: der, Type: "CERTIFICATE"}),
		pem.EncodeToMemory(&pem.Block{Bytes: keyDER, Type: "EC PRIVATE KEY"}),
	)
}
