package runner

import (
	"crypto"
	"crypto/hmac"
	cryptorand "crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unlink2/oxifuzz/pkg/rand"
	"github.com/unlink2/oxifuzz/pkg/transform"
	"github.com/unlink2/oxifuzz/pkg/words"
)

func runToken(t *testing.T, r Runner, payload string, poolWords ...[]byte) string {
	t.Helper()
	ctx := testCtx(words.PoolOf(poolWords...), false)
	code, out, err := r.Run(ctx, transform.Word(payload), rand.NewSeeded(1))
	require.NoError(t, err)
	assert.Nil(t, code)
	return string(out)
}

func TestJWTUnsignedTwoSegments(t *testing.T) {
	r, err := New(Options{Kind: KindJWT, JWTHeader: `{"alg":"none"}`})
	require.NoError(t, err)

	token := runToken(t, r, `{}`)
	segments := strings.Split(token, ".")
	require.Len(t, segments, 2)
	assert.False(t, strings.HasSuffix(token, "."))

	for _, seg := range segments {
		_, err := base64.RawURLEncoding.DecodeString(seg)
		assert.NoError(t, err, "segment %q is not valid base64url", seg)
	}

	hdr, _ := base64.RawURLEncoding.DecodeString(segments[0])
	assert.Equal(t, `{"alg":"none"}`, string(hdr))
	payload, _ := base64.RawURLEncoding.DecodeString(segments[1])
	assert.Equal(t, `{}`, string(payload))
}

func TestJWTHmacSha256(t *testing.T) {
	header := `{"alg":"HS256"}`
	r, err := New(Options{
		Kind:         KindJWT,
		JWTHeader:    header,
		JWTSignature: "hs256",
		JWTSecret:    "k",
	})
	require.NoError(t, err)

	token := runToken(t, r, `{}`)
	segments := strings.Split(token, ".")
	require.Len(t, segments, 3)

	signingInput := segments[0] + "." + segments[1]
	assert.Equal(t, base64.RawURLEncoding.EncodeToString([]byte(header)), segments[0])
	assert.Equal(t, base64.RawURLEncoding.EncodeToString([]byte(`{}`)), segments[1])

	mac := hmac.New(sha256.New, []byte("k"))
	mac.Write([]byte(signingInput))
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), segments[2])
}

func TestJWTRs256(t *testing.T) {
	key, err := rsa.GenerateKey(cryptorand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	r, err := New(Options{
		Kind:         KindJWT,
		JWTHeader:    `{"alg":"RS256"}`,
		JWTSignature: "rs256",
		JWTSecret:    string(pemBytes),
	})
	require.NoError(t, err)

	token := runToken(t, r, `{"sub":"u"}`)
	segments := strings.Split(token, ".")
	require.Len(t, segments, 3)

	signingInput := segments[0] + "." + segments[1]
	sig, err := base64.RawURLEncoding.DecodeString(segments[2])
	require.NoError(t, err)

	digest := sha256.Sum256([]byte(signingInput))
	assert.NoError(t, rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, digest[:], sig))
}

func TestJWTRs256BadKey(t *testing.T) {
	_, err := New(Options{
		Kind:         KindJWT,
		JWTHeader:    "{}",
		JWTSignature: "rs256",
		JWTSecret:    "not a pem key",
	})
	assert.Error(t, err)
}

func TestJWTHeaderFuzzSubstitution(t *testing.T) {
	r, err := New(Options{
		Kind:      KindJWT,
		JWTHeader: `{"alg":"T"}`,
		ArgTarget: "T",
	})
	require.NoError(t, err)

	token := runToken(t, r, `{}`, []byte("none"))
	hdr, err := base64.RawURLEncoding.DecodeString(strings.Split(token, ".")[0])
	require.NoError(t, err)
	assert.Equal(t, `{"alg":"none"}`, string(hdr))
}

func TestJWTHeaderFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "header.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"alg":"none"}`), 0644))

	r, err := New(Options{Kind: KindJWT, JWTHeaderFile: path})
	require.NoError(t, err)

	token := runToken(t, r, `{}`)
	hdr, _ := base64.RawURLEncoding.DecodeString(strings.Split(token, ".")[0])
	assert.Equal(t, `{"alg":"none"}`, string(hdr))
}

func TestJWTSecretFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(path, []byte("filesecret"), 0644))

	r, err := New(Options{
		Kind:          KindJWT,
		JWTHeader:     "{}",
		JWTSignature:  "hs256",
		JWTSecretFile: path,
	})
	require.NoError(t, err)

	token := runToken(t, r, "claims")
	segments := strings.Split(token, ".")
	require.Len(t, segments, 3)

	mac := hmac.New(sha256.New, []byte("filesecret"))
	mac.Write([]byte(segments[0] + "." + segments[1]))
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), segments[2])
}

func TestParseSignatureKind(t *testing.T) {
	for name, want := range map[string]SignatureKind{
		"":      SignatureNone,
		"none":  SignatureNone,
		"HS256": SignatureHS256,
		"rs256": SignatureRS256,
	} {
		got, err := ParseSignatureKind(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := ParseSignatureKind("es256")
	assert.Error(t, err)
}
