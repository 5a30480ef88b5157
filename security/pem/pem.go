// Package pem provides PEM/X.509 codec helpers shared by the security
// package: parsing RSA private keys and certificate chains out of
// concatenated PEM data, and encoding certificate chains back to PEM for
// embedding in a specification's cert_chain field.
package pem

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// Block types this package recognizes.
const (
	CertificateBlockType    = "CERTIFICATE"
	pemPKCS1PrivateKeyBlock = "RSA PRIVATE KEY"
	pemPKCS8PrivateKeyBlock = "PRIVATE KEY"
)

// ParseRSAPrivateKey scans concatenated PEM data and returns the first RSA
// private key found, supporting both PKCS#1 and PKCS#8 containers. It
// returns nil, rather than an error, when no RSA key is present — callers
// treat an absent key as "unsigned", not as malformed input.
func ParseRSAPrivateKey(data []byte) *rsa.PrivateKey {
	for len(data) > 0 {
		block, rest := pem.Decode(data)
		if block == nil {
			break
		}
		switch block.Type {
		case pemPKCS1PrivateKeyBlock:
			if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
				return k
			}
		case pemPKCS8PrivateKeyBlock:
			if anyKey, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
				if k, ok := anyKey.(*rsa.PrivateKey); ok {
					return k
				}
			}
		}
		data = rest
	}
	return nil
}

// EncodeRSAPrivateKey encodes an RSA private key as a PKCS#1 PEM block,
// matching the format RubyGems-style gem-private_key.pem files use.
func EncodeRSAPrivateKey(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  pemPKCS1PrivateKeyBlock,
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}

// ParseCertificateChain parses one or more consecutive CERTIFICATE PEM
// blocks and returns them in the order they appear. A non-CERTIFICATE block
// encountered before any certificate has been parsed is an error; one
// encountered after at least one certificate simply ends the chain.
func ParseCertificateChain(data []byte) ([]*x509.Certificate, error) {
	var chain []*x509.Certificate
	for len(data) > 0 {
		block, rest := pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != CertificateBlockType {
			if len(chain) == 0 {
				return nil, fmt.Errorf("unexpected pem block type %q, want %q", block.Type, CertificateBlockType)
			}
			break
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
		chain = append(chain, cert)
		data = rest
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("no %q pem block found", CertificateBlockType)
	}
	return chain, nil
}

// ParseCertificate parses a single CERTIFICATE PEM block.
func ParseCertificate(data []byte) (*x509.Certificate, error) {
	chain, err := ParseCertificateChain(data)
	if err != nil {
		return nil, err
	}
	return chain[0], nil
}

// EncodeCertificate encodes a single certificate as a CERTIFICATE PEM block.
func EncodeCertificate(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: CertificateBlockType, Bytes: cert.Raw})
}

// EncodeCertificateChain encodes a chain of certificates as consecutive
// CERTIFICATE PEM blocks, preserving order.
func EncodeCertificateChain(chain []*x509.Certificate) []byte {
	var out []byte
	for _, c := range chain {
		out = append(out, EncodeCertificate(c)...)
	}
	return out
}
