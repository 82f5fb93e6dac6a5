package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHMACRoundTrip(t *testing.T) {
	body := []byte(`{"tx_ref":"TXN-1","status":"success"}`)
	sig := SignHMAC("whsec", body)

	assert.True(t, VerifyHMAC("whsec", body, sig))
	assert.True(t, VerifyHMAC("whsec", body, " "+sig+" "))
	assert.False(t, VerifyHMAC("other", body, sig))
	assert.False(t, VerifyHMAC("whsec", []byte("tampered"), sig))
	assert.False(t, VerifyHMAC("", body, sig))
	assert.False(t, VerifyHMAC("whsec", body, ""))
}

func TestSHA512Hex(t *testing.T) {
	a := SHA512Hex("order-1", "200", "10000.00", "key")
	b := SHA512Hex("order-1200", "10000.00key")
	assert.Equal(t, a, b)
	assert.Len(t, a, 128)
	assert.True(t, EqualHex(a, b))
	assert.False(t, EqualHex(a, ""))
	assert.False(t, EqualHex(a, a[:64]))
}

func TestGenerateSecurityCredential(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "daraja-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "cert.cer")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))

	credential, err := GenerateSecurityCredential(path, "Safaricom999!")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(credential)
	require.NoError(t, err)
	plain, err := rsa.DecryptPKCS1v15(rand.Reader, key, raw)
	require.NoError(t, err)
	assert.Equal(t, "Safaricom999!", string(plain))

	_, err = GenerateSecurityCredential(filepath.Join(t.TempDir(), "missing.cer"), "x")
	assert.Error(t, err)

	_, err = EncryptCredential([]byte("not pem"), "x")
	assert.Error(t, err)
}
