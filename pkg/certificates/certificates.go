// Package certificates generates the self-signed PKI material the
// reconciler stores in each cluster's certificates Secret: one CA, one
// node (transport+HTTP) certificate, and one admin client certificate.
package certificates

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1" //nolint:gosec // SKI/AKI hashes are identifiers, not a security boundary
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"time"
)

// validity is fixed at 100 years: certificate rotation is out of
// scope, so expiry is set far enough out that it is never
// operationally relevant.
const validity = 100 * 365 * 24 * time.Hour

const (
	caCommonNode    = "opensearch-node"
	caCommonName    = "opensearch-CA"
	adminCommonName = "admin"
)

// Bundle is the full set of PEM-encoded material written to a cluster's
// certificates Secret.
type Bundle struct {
	CACert    []byte
	CAKey     []byte
	NodeCert  []byte
	NodeKey   []byte
	AdminCert []byte
	AdminKey  []byte
}

// Generate produces a fresh CA plus node and admin leaf certificates
// signed by it. Each call is fully independent: the reconciler only
// calls this once per cluster, the first time its certificates Secret
// is created, and never regenerates an existing bundle.
func Generate() (*Bundle, error) {
	caKey, err := rsa.GenerateKey(rand.Reader, 4096)
	if err != nil {
		return nil, fmt.Errorf("generating CA key: %w", err)
	}
	caSerial, err := randomSerial()
	if err != nil {
		return nil, err
	}
	caSKI := subjectKeyID(&caKey.PublicKey)
	caTemplate := &x509.Certificate{
		SerialNumber:          caSerial,
		Subject:               pkix.Name{CommonName: caCommonName},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(validity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		SignatureAlgorithm:    x509.SHA256WithRSA,
		SubjectKeyId:          caSKI,
		AuthorityKeyId:        caSKI,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	if err != nil {
		return nil, fmt.Errorf("self-signing CA certificate: %w", err)
	}
	caCert, err := x509.ParseCertificate(caDER)
	if err != nil {
		return nil, fmt.Errorf("parsing generated CA certificate: %w", err)
	}

	nodeCert, nodeKey, err := signLeaf(caCert, caKey, leafSpec{
		commonName: caCommonNode,
		keyBits:    2048,
		keyUsage:   x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		extKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth,
			x509.ExtKeyUsageClientAuth,
		},
		dnsNames: []string{"localhost"},
		ipAddrs:  []net.IP{net.ParseIP("127.0.0.1")},
	})
	if err != nil {
		return nil, fmt.Errorf("signing node certificate: %w", err)
	}

	adminCert, adminKey, err := signLeaf(caCert, caKey, leafSpec{
		commonName:  adminCommonName,
		keyBits:     2048,
		keyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		extKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	})
	if err != nil {
		return nil, fmt.Errorf("signing admin certificate: %w", err)
	}

	return &Bundle{
		CACert:    encodeCert(caDER),
		CAKey:     encodeRSAKey(caKey),
		NodeCert:  encodeCert(nodeCert),
		NodeKey:   encodeRSAKey(nodeKey),
		AdminCert: encodeCert(adminCert),
		AdminKey:  encodeRSAKey(adminKey),
	}, nil
}

type leafSpec struct {
	commonName  string
	keyBits     int
	keyUsage    x509.KeyUsage
	extKeyUsage []x509.ExtKeyUsage
	dnsNames    []string
	ipAddrs     []net.IP
}

func signLeaf(caCert *x509.Certificate, caKey *rsa.PrivateKey, spec leafSpec) ([]byte, *rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, spec.keyBits)
	if err != nil {
		return nil, nil, fmt.Errorf("generating key: %w", err)
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, nil, err
	}
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: spec.commonName},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(validity),
		KeyUsage:              spec.keyUsage,
		ExtKeyUsage:           spec.extKeyUsage,
		DNSNames:              spec.dnsNames,
		IPAddresses:           spec.ipAddrs,
		BasicConstraintsValid: true,
		SignatureAlgorithm:    x509.SHA256WithRSA,
		SubjectKeyId:          subjectKeyID(&key.PublicKey),
		AuthorityKeyId:        caCert.SubjectKeyId,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, caCert, &key.PublicKey, caKey)
	if err != nil {
		return nil, nil, fmt.Errorf("creating certificate: %w", err)
	}
	return der, key, nil
}

// subjectKeyID computes the RFC 5280 §4.2.1.2 method-1 key identifier:
// the SHA-1 hash of the DER-encoded subjectPublicKey bit string.
func subjectKeyID(pub *rsa.PublicKey) []byte {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil
	}
	var spki struct {
		Algorithm        asn1.RawValue
		SubjectPublicKey asn1.BitString
	}
	if _, err := asn1.Unmarshal(der, &spki); err != nil {
		return nil
	}
	hash := sha1.Sum(spki.SubjectPublicKey.Bytes) //nolint:gosec
	return hash[:]
}

func randomSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 160)
	serial, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, fmt.Errorf("generating serial number: %w", err)
	}
	return serial, nil
}

func encodeCert(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func encodeRSAKey(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
}
