package apns

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sideshow/apns2/certificate"
)

// oidUID is the LDAP "userid" attribute Apple uses to carry the bundle ID.
var oidUID = asn1.ObjectIdentifier{0, 9, 2342, 19200300, 100, 1, 1}

var errNoTopic = errors.New("certificate carries no topic")

// LoadCertificate decodes a PKCS#12 or PEM credential bundle.
// The returned certificate always has Leaf populated.
func LoadCertificate(bundle []byte, passphrase string) (tls.Certificate, error) {
	var (
		cert tls.Certificate
		err  error
	)
	if bytes.Contains(bundle, []byte("-----BEGIN")) {
		cert, err = certificate.FromPemBytes(bundle, passphrase)
	} else {
		cert, err = certificate.FromP12Bytes(bundle, passphrase)
	}
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to load certificate: %w", err)
	}
	if len(cert.Certificate) == 0 {
		return tls.Certificate{}, certificate.ErrNoCertificate
	}
	if cert.Leaf == nil {
		leaf, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("failed to parse leaf certificate: %w", err)
		}
		cert.Leaf = leaf
	}
	return cert, nil
}

// CheckValidity reports whether the bundle decodes with the passphrase and
// its leaf certificate is valid at now. It fails closed.
func CheckValidity(bundle []byte, passphrase string, now time.Time) bool {
	cert, err := LoadCertificate(bundle, passphrase)
	if err != nil {
		return false
	}
	return !now.Before(cert.Leaf.NotBefore) && !now.After(cert.Leaf.NotAfter)
}

// ReadDefaultTopic extracts the bundle ID the certificate was issued for.
func ReadDefaultTopic(bundle []byte, passphrase string) (string, error) {
	cert, err := LoadCertificate(bundle, passphrase)
	if err != nil {
		return "", err
	}
	return topicFromLeaf(cert.Leaf)
}

func topicFromLeaf(leaf *x509.Certificate) (string, error) {
	for _, name := range leaf.Subject.Names {
		if name.Type.Equal(oidUID) {
			if uid, ok := name.Value.(string); ok && uid != "" {
				return uid, nil
			}
		}
	}
	// "Apple Push Services: com.example.app"
	if _, bundleID, ok := strings.Cut(leaf.Subject.CommonName, ": "); ok && bundleID != "" {
		return strings.TrimSpace(bundleID), nil
	}
	return "", errNoTopic
}
