// Package sigctx provides the cryptographic identity primitives used by
// every manifest: Ed25519 detached signatures and X25519/XSalsa20-Poly1305
// (golang.org/x/crypto/nacl/box) per-recipient key wrapping.
//
// Key files live under a dedicated directory as "<fpr>.pub" / "<fpr>.sec",
// following the on-disk layout of sdn-server/internal/keys.Manager.
package sigctx

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"

	"github.com/pbeza/wildland-client/internal/wlerrors"
)

var log = logging.Logger("wl-sigctx")

const (
	pubSuffix = ".pub"
	secSuffix = ".sec"
)

// Fingerprint is a hex string prefixed with "0x", uniquely identifying a
// signing key (spec §3 Identity).
type Fingerprint string

// KeyPair holds a signing keypair plus its derived encryption keypair. A
// single user key maps to one Ed25519 signing pair; the encryption pair is
// derived deterministically from the signing seed so only one secret file
// needs to be protected per fingerprint.
type KeyPair struct {
	Fingerprint Fingerprint
	SignPub     ed25519.PublicKey
	SignSec     ed25519.PrivateKey
	EncPub      *[32]byte
	EncSec      *[32]byte
}

// EncryptedKeys is one per-recipient wrapped symmetric key, part of the
// "encrypted" manifest body wrapper (spec §3 Manifest envelope).
type EncryptedKeys struct {
	Recipient Fingerprint `yaml:"user"`
	Nonce     string      `yaml:"nonce"`
	Key       string      `yaml:"key"`
}

// Encrypted is the wrapper body for an encrypted manifest.
type Encrypted struct {
	EncryptedData string          `yaml:"encrypted-data"`
	EncryptedKeys []EncryptedKeys `yaml:"encrypted-keys"`
}

// Context is the cryptographic operation surface used by ManifestCodec and
// ObjectModel. A dummy Context (constructed via New with dummy=true) replaces every
// operation with an identity transform for tests, and MUST refuse to
// cross-verify real key material (spec §4.1, §7).
type Context struct {
	keyDir string
	dummy  bool
	// loaded holds every keypair read from keyDir, keyed by fingerprint.
	loaded map[Fingerprint]*KeyPair
}

// New constructs a Context backed by a directory of "<fpr>.pub"/"<fpr>.sec"
// files. dummy, when true, switches every cryptographic operation to an
// identity transform (for tests only) — this MUST be opt-in via config.
func New(keyDir string, dummy bool) (*Context, error) {
	if err := os.MkdirAll(keyDir, 0700); err != nil {
		return nil, fmt.Errorf("sigctx: create key dir: %w", err)
	}
	c := &Context{keyDir: keyDir, dummy: dummy, loaded: map[Fingerprint]*KeyPair{}}
	if dummy {
		log.Warn("sigctx running in dummy mode: signatures and encryption are no-ops")
	}
	return c, nil
}

// Generate creates a new Ed25519 signing keypair plus a derived X25519
// encryption keypair, persists both to keyDir, and returns the fingerprint.
func (c *Context) Generate() (Fingerprint, error) {
	pub, sec, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("sigctx: generate signing key: %w", err)
	}

	fpr := fingerprintOf(pub)
	encSec, encPub, err := deriveEncryptionKeypair(sec)
	if err != nil {
		return "", err
	}

	kp := &KeyPair{
		Fingerprint: fpr,
		SignPub:     pub,
		SignSec:     sec,
		EncPub:      encPub,
		EncSec:      encSec,
	}
	if err := c.persist(kp); err != nil {
		return "", err
	}
	c.loaded[fpr] = kp
	log.Infof("generated new identity %s", fpr)
	return fpr, nil
}

// deriveEncryptionKeypair clamps a curve25519 scalar derived from the
// Ed25519 seed, mirroring the clamping done in keys.go's GenerateIdentity,
// so a single Ed25519 seed yields both key families without storing two
// independent secrets.
func deriveEncryptionKeypair(seed ed25519.PrivateKey) (*[32]byte, *[32]byte, error) {
	h := sha256.Sum256(seed.Seed())
	var sec [32]byte
	copy(sec[:], h[:])
	sec[0] &= 248
	sec[31] &= 127
	sec[31] |= 64

	var pub [32]byte
	curve25519.ScalarBaseMult(&pub, &sec)
	return &sec, &pub, nil
}

func fingerprintOf(pub ed25519.PublicKey) Fingerprint {
	h := sha256.Sum256(pub)
	return Fingerprint("0x" + hex.EncodeToString(h[:]))
}

func (c *Context) persist(kp *KeyPair) error {
	pubPath := filepath.Join(c.keyDir, string(kp.Fingerprint)+pubSuffix)
	secPath := filepath.Join(c.keyDir, string(kp.Fingerprint)+secSuffix)

	pubBlob := append(append([]byte{}, kp.SignPub...), kp.EncPub[:]...)
	secBlob := append(append([]byte{}, kp.SignSec...), kp.EncSec[:]...)

	if err := os.WriteFile(pubPath, pubBlob, 0644); err != nil {
		return fmt.Errorf("sigctx: write pubkey: %w", err)
	}
	if err := os.WriteFile(secPath, secBlob, 0600); err != nil {
		return fmt.Errorf("sigctx: write seckey: %w", err)
	}
	return nil
}

// LoadSecret loads a previously-generated keypair (public + secret) for fpr
// from disk into the Context's cache, required before Sign or Decrypt can
// use it.
func (c *Context) LoadSecret(fpr Fingerprint) (*KeyPair, error) {
	if kp, ok := c.loaded[fpr]; ok {
		return kp, nil
	}
	secPath := filepath.Join(c.keyDir, string(fpr)+secSuffix)
	secBlob, err := os.ReadFile(secPath)
	if err != nil {
		return nil, fmt.Errorf("sigctx: load seckey %s: %w", fpr, wlerrors.ErrKeyMissing)
	}
	if len(secBlob) != ed25519.PrivateKeySize+32 {
		return nil, fmt.Errorf("sigctx: corrupt seckey %s: %w", fpr, wlerrors.ErrKeyMissing)
	}
	kp := &KeyPair{
		Fingerprint: fpr,
		SignSec:     ed25519.PrivateKey(secBlob[:ed25519.PrivateKeySize]),
		SignPub:     ed25519.PrivateKey(secBlob[:ed25519.PrivateKeySize]).Public().(ed25519.PublicKey),
		EncSec:      new([32]byte),
	}
	copy(kp.EncSec[:], secBlob[ed25519.PrivateKeySize:])
	var pub [32]byte
	curve25519.ScalarBaseMult(&pub, kp.EncSec)
	kp.EncPub = &pub
	c.loaded[fpr] = kp
	return kp, nil
}

// LoadPublic loads only the public half of a key, sufficient for Verify or
// Encrypt against a remote owner whose secret we don't hold.
func (c *Context) LoadPublic(fpr Fingerprint) (ed25519.PublicKey, *[32]byte, error) {
	if kp, ok := c.loaded[fpr]; ok {
		return kp.SignPub, kp.EncPub, nil
	}
	pubPath := filepath.Join(c.keyDir, string(fpr)+pubSuffix)
	pubBlob, err := os.ReadFile(pubPath)
	if err != nil {
		return nil, nil, fmt.Errorf("sigctx: load pubkey %s: %w", fpr, wlerrors.ErrKeyMissing)
	}
	if len(pubBlob) != ed25519.PublicKeySize+32 {
		return nil, nil, fmt.Errorf("sigctx: corrupt pubkey %s: %w", fpr, wlerrors.ErrKeyMissing)
	}
	signPub := ed25519.PublicKey(pubBlob[:ed25519.PublicKeySize])
	var encPub [32]byte
	copy(encPub[:], pubBlob[ed25519.PublicKeySize:])
	return signPub, &encPub, nil
}

// HasSecret reports whether the secret half of fpr is available locally.
func (c *Context) HasSecret(fpr Fingerprint) bool {
	if _, ok := c.loaded[fpr]; ok {
		return true
	}
	_, err := os.Stat(filepath.Join(c.keyDir, string(fpr)+secSuffix))
	return err == nil
}

// Sign produces a detached signature over data using fpr's secret key.
func (c *Context) Sign(fpr Fingerprint, data []byte) ([]byte, error) {
	if c.dummy {
		return []byte("dummy:" + string(fpr)), nil
	}
	kp, err := c.LoadSecret(fpr)
	if err != nil {
		return nil, err
	}
	return ed25519.Sign(kp.SignSec, data), nil
}

// Verify checks a detached signature against fpr's known public key.
func (c *Context) Verify(fpr Fingerprint, data, sig []byte) (bool, error) {
	if c.dummy {
		if len(sig) >= 6 && string(sig[:6]) == "dummy:" {
			return string(sig[6:]) == string(fpr), nil
		}
		return false, fmt.Errorf("sigctx: dummy mode refuses real signature: %w", wlerrors.ErrUntrusted)
	}
	pub, _, err := c.LoadPublic(fpr)
	if err != nil {
		return false, err
	}
	return ed25519.Verify(pub, data, sig), nil
}

// Encrypt symmetric-encrypts cleartext once and asymmetrically wraps the
// resulting key once per recipient (spec §4.1, §3 invariant 5).
func (c *Context) Encrypt(cleartext []byte, recipients []Fingerprint) (*Encrypted, error) {
	if c.dummy {
		return &Encrypted{EncryptedData: base64.StdEncoding.EncodeToString(cleartext)}, nil
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("sigctx: encrypt requires at least one recipient: %w", wlerrors.ErrSchema)
	}

	var symKey [32]byte
	if _, err := rand.Read(symKey[:]); err != nil {
		return nil, fmt.Errorf("sigctx: generate symmetric key: %w", err)
	}

	ephPub, ephSec, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("sigctx: generate ephemeral key: %w", err)
	}

	var dataNonce [24]byte
	if _, err := rand.Read(dataNonce[:]); err != nil {
		return nil, err
	}
	sealed := box.Seal(dataNonce[:], cleartext, &dataNonce, (*[32]byte)(ephPub), &symKey)

	out := &Encrypted{EncryptedData: base64.StdEncoding.EncodeToString(sealed)}
	for _, r := range recipients {
		_, rEncPub, err := c.LoadPublic(r)
		if err != nil {
			return nil, fmt.Errorf("sigctx: load recipient %s pubkey: %w", r, err)
		}
		var keyNonce [24]byte
		if _, err := rand.Read(keyNonce[:]); err != nil {
			return nil, err
		}
		wrapped := box.Seal(keyNonce[:], symKey[:], &keyNonce, rEncPub, (*[32]byte)(ephSec))
		out.EncryptedKeys = append(out.EncryptedKeys, EncryptedKeys{
			Recipient: r,
			Nonce:     base64.StdEncoding.EncodeToString(ephPub[:]),
			Key:       base64.StdEncoding.EncodeToString(wrapped),
		})
	}
	return out, nil
}

// Decrypt attempts to unwrap enc using any locally-available secret key
// belonging to one of enc's recipients, returning Unencryptable (wrapped
// ErrDecrypt) if none matches.
func (c *Context) Decrypt(enc *Encrypted) ([]byte, error) {
	if c.dummy {
		data, err := base64.StdEncoding.DecodeString(enc.EncryptedData)
		if err != nil {
			return nil, fmt.Errorf("sigctx: decode dummy body: %w", wlerrors.ErrDecrypt)
		}
		return data, nil
	}

	sealed, err := base64.StdEncoding.DecodeString(enc.EncryptedData)
	if err != nil {
		return nil, fmt.Errorf("sigctx: decode ciphertext: %w", wlerrors.ErrDecrypt)
	}
	if len(sealed) < 24 {
		return nil, fmt.Errorf("sigctx: truncated ciphertext: %w", wlerrors.ErrDecrypt)
	}
	var dataNonce [24]byte
	copy(dataNonce[:], sealed[:24])

	for _, ek := range enc.EncryptedKeys {
		kp, err := c.LoadSecret(ek.Recipient)
		if err != nil {
			continue
		}
		ephPub, err := base64.StdEncoding.DecodeString(ek.Nonce)
		if err != nil || len(ephPub) != 32 {
			continue
		}
		var ephPubArr [32]byte
		copy(ephPubArr[:], ephPub)

		wrapped, err := base64.StdEncoding.DecodeString(ek.Key)
		if err != nil || len(wrapped) < 24 {
			continue
		}
		var keyNonce [24]byte
		copy(keyNonce[:], wrapped[:24])

		symKey, ok := box.Open(nil, wrapped[24:], &keyNonce, &ephPubArr, kp.EncSec)
		if !ok || len(symKey) != 32 {
			continue
		}
		var symKeyArr [32]byte
		copy(symKeyArr[:], symKey)

		cleartext, ok := box.Open(nil, sealed[24:], &dataNonce, &ephPubArr, &symKeyArr)
		if !ok {
			continue
		}
		return cleartext, nil
	}
	return nil, fmt.Errorf("sigctx: no local secret key unwraps this manifest: %w", wlerrors.ErrDecrypt)
}
