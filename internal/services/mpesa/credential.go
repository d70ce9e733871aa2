package mpesa

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// SecurityCredential encrypts the initiator password with the public key in
// the provider's certificate, as the B2C API expects.
func SecurityCredential(certPEM []byte, initiatorPassword string) (string, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return "", errors.New("mpesa: certificate is not PEM encoded")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("mpesa: parse certificate: %w", err)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return "", errors.New("mpesa: certificate key is not RSA")
	}
	out, err := rsa.EncryptPKCS1v15(rand.Reader, pub, []byte(initiatorPassword))
	if err != nil {
		return "", fmt.Errorf("mpesa: encrypt credential: %w", err)
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// SecurityCredentialFromFile reads the certificate at path.
func SecurityCredentialFromFile(path, initiatorPassword string) (string, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("mpesa: read certificate: %w", err)
	}
	return SecurityCredential(pemBytes, initiatorPassword)
}
