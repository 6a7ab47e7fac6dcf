// Package signing builds and verifies HMAC-signed command envelopes.
//
// Canonical form: compact JSON with the keys of domain.CommandRequest in
// declaration order (id, nonce, timestamp, action, params, auto_execute),
// params keys sorted, HTML characters left unescaped and no trailing newline.
// Signer and verifier must both go through Canonicalize; Verify itself only
// ever looks at the bytes it is given.
package signing

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"

	"github.com/xiaot623/gogo/mgmt/internal/domain"
)

const (
	// Header carries the signature on the wire.
	Header = "x-signature"

	// AlgorithmSHA256 is the only supported algorithm tag.
	AlgorithmSHA256 = "sha256"

	prefix = AlgorithmSHA256 + "="
)

// Canonicalize returns the canonical byte encoding of req.
func Canonicalize(req *domain.CommandRequest) ([]byte, error) {
	if req == nil {
		return nil, &domain.EncodingError{Field: "request", Err: errors.New("nil request")}
	}
	if req.ID == "" {
		return nil, &domain.EncodingError{Field: "id", Err: errors.New("must not be empty")}
	}

	out := *req
	if out.Params == nil {
		out.Params = map[string]interface{}{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(&out); err != nil {
		// Every field but params is a plain scalar, so only params can fail.
		return nil, &domain.EncodingError{Field: "params", Err: err}
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Sign returns the tagged HMAC-SHA256 of body under secret.
func Sign(body, secret []byte) string {
	return prefix + hex.EncodeToString(mac(body, secret))
}

// Build canonicalizes req and signs the result.
func Build(req *domain.CommandRequest, secret []byte) (*domain.Envelope, error) {
	body, err := Canonicalize(req)
	if err != nil {
		return nil, err
	}
	return &domain.Envelope{Body: body, Signature: Sign(body, secret)}, nil
}

// Verify reports whether signature is the tagged HMAC-SHA256 of body under secret.
// Any malformed signature simply fails verification.
func Verify(body []byte, signature string, secret []byte) bool {
	digest, ok := strings.CutPrefix(signature, prefix)
	if !ok {
		return false
	}
	return verifyHex(body, digest, secret)
}

// VerifyHeader is Verify for values taken from the x-signature header. A bare
// hex digest with no algorithm tag is treated as sha256.
func VerifyHeader(body []byte, header string, secret []byte) bool {
	header = strings.TrimSpace(header)
	if !strings.Contains(header, "=") {
		return verifyHex(body, header, secret)
	}
	return Verify(body, header, secret)
}

func verifyHex(body []byte, digest string, secret []byte) bool {
	got, err := hex.DecodeString(digest)
	if err != nil || len(got) != sha256.Size {
		return false
	}
	return hmac.Equal(got, mac(body, secret))
}

func mac(body, secret []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write(body)
	return h.Sum(nil)
}
