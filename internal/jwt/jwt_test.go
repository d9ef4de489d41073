package jwt

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func selfSigned(t *testing.T, cn string) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return key, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func sign(t *testing.T, key *rsa.PrivateKey, kid string, claims gojwt.MapClaims) string {
	t.Helper()
	tok := gojwt.NewWithClaims(gojwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(key)
	require.NoError(t, err)
	return s
}

func TestVerify(t *testing.T) {
	key, certPEM := selfSigned(t, "panel")
	path := filepath.Join(t.TempDir(), "panel.pem")
	require.NoError(t, os.WriteFile(path, certPEM, 0o600))

	v, err := NewValidator([]string{path}, "energy-host", "energy-bridge")
	require.NoError(t, err)
	require.True(t, v.Enabled())

	good := sign(t, key, "panel", gojwt.MapClaims{
		"iss": "energy-host",
		"aud": "energy-bridge",
		"exp": time.Now().Add(time.Minute).Unix(),
	})
	claims, err := v.Verify(good)
	require.NoError(t, err)
	assert.Equal(t, "energy-host", claims["iss"])

	wrongIss := sign(t, key, "panel", gojwt.MapClaims{"iss": "other", "aud": "energy-bridge"})
	_, err = v.Verify(wrongIss)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := sign(t, key, "panel", gojwt.MapClaims{
		"iss": "energy-host",
		"aud": "energy-bridge",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})
	_, err = v.Verify(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	otherKey, _ := selfSigned(t, "intruder")
	forged := sign(t, otherKey, "panel", gojwt.MapClaims{"iss": "energy-host", "aud": "energy-bridge"})
	_, err = v.Verify(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDisabledValidatorRejects(t *testing.T) {
	v, err := NewValidator(nil, "", "")
	require.NoError(t, err)
	assert.False(t, v.Enabled())

	_, err = v.Verify("anything")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewValidatorBadPEM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(path, []byte("not a pem"), 0o600))
	_, err := NewValidator([]string{path}, "", "")
	assert.Error(t, err)
}

func TestKidSelectsCertificate(t *testing.T) {
	keyA, pemA := selfSigned(t, "host-a")
	keyB, pemB := selfSigned(t, "host-b")
	certA, err := parseCertificate(pemA)
	require.NoError(t, err)
	certB, err := parseCertificate(pemB)
	require.NoError(t, err)

	v := fromCertificates([]*x509.Certificate{certA, certB}, "", "")
	require.True(t, v.Enabled())

	claims := gojwt.MapClaims{"sub": "host", "exp": time.Now().Add(time.Minute).Unix()}
	_, err = v.Verify(sign(t, keyB, "host-b", claims))
	assert.NoError(t, err)
	_, err = v.Verify(sign(t, keyA, "host-b", claims))
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = parseCertificate([]byte("-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----\n"))
	assert.Error(t, err)
}
