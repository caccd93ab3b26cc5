package runner

import (
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"github.com/unlink2/oxifuzz/pkg/rand"
	"github.com/unlink2/oxifuzz/pkg/transform"
)

// SignatureKind names a JWT signing algorithm.
type SignatureKind string

const (
	SignatureNone  SignatureKind = "none"
	SignatureHS256 SignatureKind = "hs256"
	SignatureRS256 SignatureKind = "rs256"
)

// ParseSignatureKind parses a signature algorithm name.
func ParseSignatureKind(s string) (SignatureKind, error) {
	switch SignatureKind(strings.ToLower(s)) {
	case SignatureNone, "":
		return SignatureNone, nil
	case SignatureHS256:
		return SignatureHS256, nil
	case SignatureRS256:
		return SignatureRS256, nil
	default:
		return SignatureNone, fmt.Errorf("unsupported jwt signature %q", s)
	}
}

// Signature signs a JWT signing input. The zero value is the unsigned
// variant.
type Signature struct {
	kind   SignatureKind
	secret []byte
	key    *rsa.PrivateKey
}

// NewHS256Signature builds an HMAC-SHA256 signature with the given secret.
func NewHS256Signature(secret []byte) Signature {
	return Signature{kind: SignatureHS256, secret: secret}
}

// NewRS256Signature parses a PKCS#8 PEM RSA private key. Parse failures
// surface at construction so a bad key never aborts mid-run.
func NewRS256Signature(pemBytes []byte) (Signature, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return Signature{}, fmt.Errorf("jwt key: no PEM block found")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return Signature{}, fmt.Errorf("jwt key: parse PKCS#8: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return Signature{}, fmt.Errorf("jwt key: not an RSA private key")
	}
	return Signature{kind: SignatureRS256, key: key}, nil
}

// Sign produces the base64url-no-pad encoded signature for signingInput.
// The second return is false when the algorithm is none and the token has
// no signature segment.
func (s Signature) Sign(signingInput []byte) (string, bool, error) {
	switch s.kind {
	case SignatureHS256:
		mac := hmac.New(sha256.New, s.secret)
		mac.Write(signingInput)
		return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), true, nil
	case SignatureRS256:
		digest := sha256.Sum256(signingInput)
		sig, err := rsa.SignPKCS1v15(nil, s.key, crypto.SHA256, digest[:])
		if err != nil {
			return "", false, fmt.Errorf("jwt rs256 sign: %w", err)
		}
		return base64.RawURLEncoding.EncodeToString(sig), true, nil
	default:
		return "", false, nil
	}
}

// JWT encodes each payload as the claims segment of a token. The header
// template has the argument marker fuzz-substituted per iteration, so the
// header itself is a fuzz surface.
type JWT struct {
	Header    string
	Signature Signature
	ArgTarget string
}

func newJWT(opts Options) (Runner, error) {
	header := opts.JWTHeader
	if opts.JWTHeaderFile != "" {
		data, err := os.ReadFile(opts.JWTHeaderFile)
		if err != nil {
			return nil, fmt.Errorf("read jwt header file: %w", err)
		}
		header = strings.ToValidUTF8(string(data), "�")
	}
	if header == "" {
		return nil, ErrNoHeader
	}

	kind, err := ParseSignatureKind(opts.JWTSignature)
	if err != nil {
		return nil, err
	}

	var secret []byte
	if opts.JWTSecret != "" {
		secret = []byte(opts.JWTSecret)
	} else if opts.JWTSecretFile != "" {
		secret, err = os.ReadFile(opts.JWTSecretFile)
		if err != nil {
			return nil, fmt.Errorf("read jwt secret file: %w", err)
		}
	}

	var signature Signature
	switch kind {
	case SignatureHS256:
		if secret == nil {
			return nil, ErrNoSecret
		}
		signature = NewHS256Signature(secret)
	case SignatureRS256:
		if secret == nil {
			return nil, ErrNoSecret
		}
		signature, err = NewRS256Signature(secret)
		if err != nil {
			return nil, err
		}
	}

	return &JWT{
		Header:    header,
		Signature: signature,
		ArgTarget: opts.ArgTarget,
	}, nil
}

// Run implements Runner. The token is
// base64url(header) "." base64url(payload) [ "." base64url(signature) ]
// with the unpadded URL-safe alphabet; the unsigned variant keeps two
// segments and no trailing dot.
func (j *JWT) Run(ctx *Context, payload transform.Word, rng rand.Source) (*int, transform.Word, error) {
	header, err := replaceFuzz(j.Header, j.ArgTarget, ctx, rng)
	if err != nil {
		return nil, nil, err
	}

	encHeader := base64.RawURLEncoding.EncodeToString([]byte(header))
	encPayload := base64.RawURLEncoding.EncodeToString(payload)
	signingInput := encHeader + "." + encPayload

	sig, present, err := j.Signature.Sign([]byte(signingInput))
	if err != nil {
		return nil, nil, err
	}

	token := signingInput
	if present {
		token += "." + sig
	}
	return nil, transform.Word(token), nil
}
