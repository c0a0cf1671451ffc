package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	CertificateTypeP12 = "p12"
	CertificateTypePEM = "pem"
)

// Certificate is one certificate or key item. Data wins over File.
type Certificate struct {
	Data       []byte `json:"-" yaml:"-"`
	File       string `json:"file,omitempty" yaml:"file,omitempty"`
	Passphrase string `json:"passphrase,omitempty" yaml:"passphrase,omitempty"`
}

// ClientCertificate describes the client certificate used for TLS. A p12
// certificate carries the key inside the bundle, a pem certificate has
// matching Key items.
type ClientCertificate struct {
	Type string        `json:"type" yaml:"type"`
	Cert []Certificate `json:"cert" yaml:"cert"`
	Key  []Certificate `json:"key,omitempty" yaml:"key,omitempty"`
}

// CertificateConfigError reports a client certificate that cannot be used.
// It is surfaced as a warning and the certificate is dropped.
type CertificateConfigError struct {
	Message string
	Err     error
}

func (e *CertificateConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *CertificateConfigError) Unwrap() error {
	return e.Err
}

// Validate checks the descriptor shape.
func (c *ClientCertificate) Validate() error {
	if c.Type == "" {
		return &CertificateConfigError{Message: "The certificate has no type. It will be ignored."}
	}
	if !hasData(c.Cert) {
		return &CertificateConfigError{Message: "The certificate has no data. It will be ignored."}
	}
	switch strings.ToLower(c.Type) {
	case CertificateTypeP12, CertificateTypePEM:
	default:
		return &CertificateConfigError{Message: fmt.Sprintf("Unsupported certificate type %q. It will be ignored.", c.Type)}
	}
	return nil
}

func hasData(items []Certificate) bool {
	for _, item := range items {
		if len(item.Data) > 0 || item.File != "" {
			return true
		}
	}
	return false
}

// Resolve reads every item that has a File but no Data. Relative files are
// resolved against baseDir.
func (c *ClientCertificate) Resolve(baseDir string) error {
	for _, items := range [][]Certificate{c.Cert, c.Key} {
		for i := range items {
			if len(items[i].Data) > 0 || items[i].File == "" {
				continue
			}
			path := items[i].File
			if !filepath.IsAbs(path) && baseDir != "" {
				path = filepath.Join(baseDir, path)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return &CertificateConfigError{Message: "Unable to read the certificate file", Err: err}
			}
			items[i].Data = data
		}
	}
	return nil
}
