// pkg/security/security_credentials.go
package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
)

// GenerateSecurityCredential encrypts an M-Pesa initiator password with the
// public key in the Daraja certificate at certPath.
func GenerateSecurityCredential(certPath, initiatorPassword string) (string, error) {
	certData, err := os.ReadFile(certPath)
	if err != nil {
		return "", fmt.Errorf("failed to read certificate: %w", err)
	}
	return EncryptCredential(certData, initiatorPassword)
}

// EncryptCredential is GenerateSecurityCredential for an in-memory PEM cert.
func EncryptCredential(certPEM []byte, initiatorPassword string) (string, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return "", fmt.Errorf("failed to decode PEM block")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("failed to parse certificate: %w", err)
	}

	publicKey, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return "", fmt.Errorf("certificate does not contain RSA public key")
	}

	encrypted, err := rsa.EncryptPKCS1v15(rand.Reader, publicKey, []byte(initiatorPassword))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt password: %w", err)
	}

	return base64.StdEncoding.EncodeToString(encrypted), nil
}
