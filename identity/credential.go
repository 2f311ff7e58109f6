package identity

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// Credential is the per-request identity: uid, gid, pid and an optional
// security label. It round-trips through a portable string via
// ExportSigned/ImportSigned or ExportEncrypted/ImportEncrypted.
type Credential struct {
	UID   uint32
	GID   uint32
	PID   uint32
	Label string
}

// credentialClaims is the JWT claims shape used by the signed export
// path: a compact, tamper-evident string suitable for crossing an RPC
// link to another peer in the same trust domain.
type credentialClaims struct {
	jwt.RegisteredClaims
	UID   uint32 `json:"uid"`
	GID   uint32 `json:"gid"`
	PID   uint32 `json:"pid"`
	Label string `json:"label,omitempty"`
}

// ExportSigned produces a compact JWT encoding of the credential, signed
// with an HMAC key shared between the peers that need to trust it.
func (c Credential) ExportSigned(key []byte, ttl time.Duration) (string, error) {
	claims := credentialClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		UID:   c.UID,
		GID:   c.GID,
		PID:   c.PID,
		Label: c.Label,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(key)
}

// ImportSigned verifies and decodes a credential previously produced by
// ExportSigned.
func ImportSigned(s string, key []byte) (Credential, error) {
	var claims credentialClaims
	_, err := jwt.ParseWithClaims(s, &claims, func(*jwt.Token) (any, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	if err != nil {
		return Credential{}, fmt.Errorf("identity: import signed credential: %w", err)
	}
	return Credential{UID: claims.UID, GID: claims.GID, PID: claims.PID, Label: claims.Label}, nil
}

// ─── Encrypted portable form ───
//
// Uses an AES-256-GCM "enc:" convention so a credential can also be
// carried opaquely (no JWT claims structure visible) when the
// deployment already manages a shared encryption key for this purpose.

const encPrefix = "enc:"

// ExportEncrypted seals the credential as "enc:<base64(nonce+ciphertext)>".
// key must be exactly 32 bytes.
func (c Credential) ExportEncrypted(key []byte) (string, error) {
	plaintext := fmt.Sprintf("%d:%d:%d:%s", c.UID, c.GID, c.PID, c.Label)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("identity: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("identity: create gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("identity: generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return encPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// ImportEncrypted reverses ExportEncrypted.
func ImportEncrypted(s string, key []byte) (Credential, error) {
	if !strings.HasPrefix(s, encPrefix) {
		return Credential{}, errors.New("identity: not an encrypted credential")
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, encPrefix))
	if err != nil {
		return Credential{}, fmt.Errorf("identity: decode base64: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return Credential{}, fmt.Errorf("identity: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return Credential{}, fmt.Errorf("identity: create gcm: %w", err)
	}
	if len(data) < gcm.NonceSize() {
		return Credential{}, errors.New("identity: ciphertext too short")
	}
	nonce, sealed := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return Credential{}, fmt.Errorf("identity: decrypt: %w", err)
	}
	parts := strings.SplitN(string(plaintext), ":", 4)
	if len(parts) != 4 {
		return Credential{}, errors.New("identity: malformed credential payload")
	}
	var c Credential
	if _, err := fmt.Sscanf(parts[0]+":"+parts[1]+":"+parts[2], "%d:%d:%d", &c.UID, &c.GID, &c.PID); err != nil {
		return Credential{}, fmt.Errorf("identity: parse credential: %w", err)
	}
	c.Label = parts[3]
	return c, nil
}

// ─── OAuth-bearer portable form ───
//
// Some peers authenticate a credential as an externally issued OAuth
// bearer token rather than a binder-minted JWT or encrypted blob —
// e.g. a device-auth flow
// against a third-party identity provider. ExportOAuthToken/ImportOAuthToken
// round-trip the bearer token and its expiry alongside the uid/gid/pid
// triple the rest of the core expects every Credential to carry.

// oauthCredential is the JSON shape carried inside an *oauth2.Token's
// Extra map under extraKeyCredential, so the bearer token remains a
// plain oauth2.Token anywhere else it's handled (refreshed, stored)
// while still round-tripping the binder's own fields.
type oauthCredential struct {
	UID   uint32 `json:"uid"`
	GID   uint32 `json:"gid"`
	PID   uint32 `json:"pid"`
	Label string `json:"label,omitempty"`
}

const extraKeyCredential = "credential"

// ExportOAuthToken attaches c to tok's Extra fields and returns tok
// unchanged otherwise, so the result can be handed to an
// oauth2.TokenSource or persisted with any of the oauth2 package's own
// helpers.
func (c Credential) ExportOAuthToken(tok *oauth2.Token) *oauth2.Token {
	raw, _ := json.Marshal(oauthCredential{UID: c.UID, GID: c.GID, PID: c.PID, Label: c.Label})
	return tok.WithExtra(map[string]any{extraKeyCredential: string(raw)})
}

// ImportOAuthToken recovers the Credential previously attached by
// ExportOAuthToken. It fails if tok carries no credential extra field
// or the token's AccessToken is empty.
func ImportOAuthToken(tok *oauth2.Token) (Credential, error) {
	if tok == nil || tok.AccessToken == "" {
		return Credential{}, errors.New("identity: oauth token missing access token")
	}
	raw, _ := tok.Extra(extraKeyCredential).(string)
	if raw == "" {
		return Credential{}, errors.New("identity: oauth token carries no credential")
	}
	var oc oauthCredential
	if err := json.Unmarshal([]byte(raw), &oc); err != nil {
		return Credential{}, fmt.Errorf("identity: decode oauth credential: %w", err)
	}
	return Credential{UID: oc.UID, GID: oc.GID, PID: oc.PID, Label: oc.Label}, nil
}

// DeriveKey derives a 32-byte AES-256 key from an arbitrary passphrase.
func DeriveKey(passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("identity: key passphrase must not be empty")
	}
	sum := sha256.Sum256([]byte(passphrase))
	return sum[:], nil
}
