package transport

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/abdul-hamid-achik/hitwire/packages/core/config"
	"software.sslmate.com/src/go-pkcs12"
)

// TLSConfig builds the client TLS config used to talk to host. Client
// certificate items that cannot be used are left out of the config and
// reported through err as *config.CertificateConfigError values.
func TLSConfig(host string, opts *config.Options, cert *config.ClientCertificate) (*tls.Config, error) {
	cfg := &tls.Config{ServerName: host}
	if opts.GetValidateCertificates() {
		checker := opts.IdentityChecker
		if checker == nil {
			checker = func(host string, cert *x509.Certificate) error {
				return cert.VerifyHostname(host)
			}
		}
		cfg.VerifyConnection = func(cs tls.ConnectionState) error {
			if len(cs.PeerCertificates) == 0 {
				return errors.New("server presented no certificate")
			}
			return checker(host, cs.PeerCertificates[0])
		}
	} else {
		cfg.InsecureSkipVerify = true
	}

	if cert == nil {
		return cfg, nil
	}
	certs, err := LoadClientCertificates(cert)
	cfg.Certificates = certs
	return cfg, err
}

// LoadClientCertificates turns the items of c into tls.Certificates. Every
// p12 item is a bundle with its own passphrase. A pem cert item pairs with
// the key item at the same index, and with a single key every cert item
// joins one chain. Usable items are returned even when others fail; the
// failures are joined in err.
func LoadClientCertificates(c *config.ClientCertificate) ([]tls.Certificate, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if strings.ToLower(c.Type) == config.CertificateTypeP12 {
		var (
			certs []tls.Certificate
			errs  []error
		)
		for _, item := range c.Cert {
			pair, err := loadP12(item)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			certs = append(certs, pair)
		}
		return certs, errors.Join(errs...)
	}
	return loadPEM(c)
}

func itemData(item config.Certificate) ([]byte, error) {
	if len(item.Data) > 0 {
		return item.Data, nil
	}
	if item.File == "" {
		return nil, &config.CertificateConfigError{Message: "The certificate has no data. It will be ignored."}
	}
	data, err := os.ReadFile(item.File)
	if err != nil {
		return nil, &config.CertificateConfigError{Message: "Unable to read the certificate file", Err: err}
	}
	return data, nil
}

func loadP12(item config.Certificate) (tls.Certificate, error) {
	data, err := itemData(item)
	if err != nil {
		return tls.Certificate{}, err
	}
	key, leaf, chain, err := pkcs12.DecodeChain(data, item.Passphrase)
	if err != nil {
		return tls.Certificate{}, &config.CertificateConfigError{Message: "Unable to decode the p12 certificate", Err: err}
	}
	pair := tls.Certificate{
		Certificate: [][]byte{leaf.Raw},
		PrivateKey:  key,
		Leaf:        leaf,
	}
	for _, ca := range chain {
		pair.Certificate = append(pair.Certificate, ca.Raw)
	}
	return pair, nil
}

func loadPEM(c *config.ClientCertificate) ([]tls.Certificate, error) {
	switch len(c.Key) {
	case 0:
		return nil, &config.CertificateConfigError{Message: "The pem certificate has no key. It will be ignored."}
	case 1:
		pair, err := pemPair(c.Cert, c.Key[0])
		if err != nil {
			return nil, err
		}
		return []tls.Certificate{pair}, nil
	}

	var (
		certs []tls.Certificate
		errs  []error
	)
	for i, item := range c.Cert {
		if i >= len(c.Key) {
			errs = append(errs, &config.CertificateConfigError{Message: fmt.Sprintf("The pem certificate %d has no key. It will be ignored.", i+1)})
			continue
		}
		pair, err := pemPair([]config.Certificate{item}, c.Key[i])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		certs = append(certs, pair)
	}
	return certs, errors.Join(errs...)
}

// pemPair builds one certificate from a chain of pem cert items and a key.
func pemPair(chain []config.Certificate, key config.Certificate) (tls.Certificate, error) {
	var certPEM []byte
	for _, item := range chain {
		data, err := itemData(item)
		if err != nil {
			return tls.Certificate{}, err
		}
		certPEM = append(certPEM, data...)
		certPEM = append(certPEM, '\n')
	}
	keyPEM, err := decryptKey(key)
	if err != nil {
		return tls.Certificate{}, err
	}
	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, &config.CertificateConfigError{Message: "Unable to use the pem certificate", Err: err}
	}
	return pair, nil
}

// decryptKey returns the key item as unencrypted pem data.
func decryptKey(item config.Certificate) ([]byte, error) {
	data, err := itemData(item)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, &config.CertificateConfigError{Message: "The certificate key is not pem encoded"}
	}
	if block.Type == "ENCRYPTED PRIVATE KEY" {
		return nil, &config.CertificateConfigError{Message: "Encrypted PKCS#8 keys are not supported"}
	}
	//nolint:staticcheck
	if !x509.IsEncryptedPEMBlock(block) {
		return data, nil
	}
	//nolint:staticcheck
	der, err := x509.DecryptPEMBlock(block, []byte(item.Passphrase))
	if err != nil {
		return nil, &config.CertificateConfigError{Message: "Unable to decrypt the certificate key", Err: err}
	}
	return pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der}), nil
}

// certificateWarnings renders each certificate problem joined in err for
// the log.
func certificateWarnings(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, certificateWarnings(e)...)
		}
		return out
	}
	var cfgErr *config.CertificateConfigError
	if errors.As(err, &cfgErr) {
		return []string{cfgErr.Error()}
	}
	return []string{fmt.Sprintf("client certificate ignored: %v", err)}
}
