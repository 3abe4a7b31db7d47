// Package manifest implements the ManifestCodec (spec §4.2): canonical
// serialization of the two-part signature+body envelope, signature framing,
// version negotiation, and transparent decrypt-on-load. It follows the
// gopkg.in/yaml.v3 struct-tag style used throughout
// sdn-server/internal/config/config.go, and the sentinel-error style of
// sdn-server/internal/sds/validator.go.
package manifest

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"gopkg.in/yaml.v3"

	"github.com/pbeza/wildland-client/internal/sigctx"
	"github.com/pbeza/wildland-client/internal/wlerrors"
)

var log = logging.Logger("wl-manifest")

// Version is the only schema version this codec accepts (spec §9: "Version
// is frozen at '1'. An unknown version MUST be rejected, never silently
// upgraded.").
const Version = "1"

const bodySeparator = "\n---\n"

// sigHeader is the YAML shape of the envelope's signature block:
//
//	signature: |
//	  <fpr>:<base64 signature>
type sigHeader struct {
	Signature string `yaml:"signature"`
}

// encryptedBody is the YAML shape of an encrypted manifest body.
type encryptedBody struct {
	Encrypted *sigctx.Encrypted `yaml:"encrypted"`
}

// Envelope is a parsed, not-yet-decrypted manifest: a signer fingerprint,
// its detached signature over the raw body bytes, and the body bytes
// themselves (cleartext YAML or an "encrypted:" wrapper).
type Envelope struct {
	SignerFingerprint sigctx.Fingerprint
	SignatureB64      string
	BodyBytes         []byte
}

// Parse splits the two-part wire format into an Envelope without verifying
// the signature or decrypting the body — callers must call Verify and then
// Open (or DecodeInto) explicitly, so that signature/schema failures can
// never partially apply (spec §7 Propagation).
func Parse(raw []byte) (*Envelope, error) {
	idx := bytes.Index(raw, []byte(bodySeparator))
	if idx < 0 {
		return nil, fmt.Errorf("manifest: missing '---' body separator: %w", wlerrors.ErrSchema)
	}

	var hdr sigHeader
	if err := yaml.Unmarshal(raw[:idx], &hdr); err != nil {
		return nil, fmt.Errorf("manifest: decode signature header: %w", wlerrors.ErrSchema)
	}
	fpr, sig, ok := strings.Cut(strings.TrimSpace(hdr.Signature), ":")
	if !ok || fpr == "" || sig == "" {
		return nil, fmt.Errorf("manifest: malformed signature field %q: %w", hdr.Signature, wlerrors.ErrSchema)
	}

	body := raw[idx+len(bodySeparator):]
	return &Envelope{
		SignerFingerprint: sigctx.Fingerprint(fpr),
		SignatureB64:      sig,
		BodyBytes:         body,
	}, nil
}

// Verify checks the envelope's detached signature against its claimed
// signer using ctx, returning a SignatureError-class error on mismatch.
// Per invariant 1, the caller is responsible for checking that
// SignerFingerprint is one of the owner's known pubkeys.
func (e *Envelope) Verify(ctx *sigctx.Context) error {
	sig, err := base64.StdEncoding.DecodeString(e.SignatureB64)
	if err != nil {
		return fmt.Errorf("manifest: decode signature: %w", wlerrors.ErrSignature)
	}
	ok, err := ctx.Verify(e.SignerFingerprint, e.BodyBytes, sig)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("manifest: signature does not verify for %s: %w", e.SignerFingerprint, wlerrors.ErrSignature)
	}
	return nil
}

// IsEncrypted reports whether the envelope's body is an "encrypted:"
// wrapper rather than a cleartext object.
func (e *Envelope) IsEncrypted() bool {
	var probe encryptedBody
	if err := yaml.Unmarshal(e.BodyBytes, &probe); err != nil {
		return false
	}
	return probe.Encrypted != nil
}

// Open returns the cleartext body bytes, decrypting via ctx if the body is
// wrapped. Fails with ErrDecrypt (Unencryptable) if no locally-available
// secret key unwraps it.
func (e *Envelope) Open(ctx *sigctx.Context) ([]byte, error) {
	if !e.IsEncrypted() {
		return e.BodyBytes, nil
	}
	var wrapper encryptedBody
	if err := yaml.Unmarshal(e.BodyBytes, &wrapper); err != nil {
		return nil, fmt.Errorf("manifest: decode encrypted wrapper: %w", wlerrors.ErrSchema)
	}
	cleartext, err := ctx.Decrypt(wrapper.Encrypted)
	if err != nil {
		return nil, err
	}
	return cleartext, nil
}

// DecodeInto verifies version stamping on the opened body and unmarshals it
// into v (a pointer to one of the typed manifest structs).
func DecodeInto(body []byte, v VersionedObject) error {
	if err := yaml.Unmarshal(body, v); err != nil {
		return fmt.Errorf("manifest: decode body: %w", wlerrors.ErrSchema)
	}
	if v.ManifestVersion() != Version {
		return fmt.Errorf("manifest: unsupported version %q: %w", v.ManifestVersion(), wlerrors.ErrSchema)
	}
	return nil
}

// VersionedObject is implemented by every typed manifest body
// (User/Container/Storage/Bridge/Link) so DecodeInto can enforce the frozen
// schema version uniformly.
type VersionedObject interface {
	ManifestVersion() string
}

// Encode canonically serializes v (a cleartext body), signs it with fpr
// using ctx, and returns the full two-part wire-format bytes. Canonical
// form: yaml.v3's stable key order, "\n" newlines, signature header first,
// then "---", then the body — the signature covers exactly BodyBytes
// (spec §4.2, §8 round-trip property, Open Question (a): this is the
// canonical serialization this implementation commits to).
func Encode(ctx *sigctx.Context, fpr sigctx.Fingerprint, v VersionedObject) ([]byte, error) {
	body, err := yaml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("manifest: marshal body: %w", err)
	}
	return assemble(ctx, fpr, body)
}

// EncodeEncrypted symmetric-encrypts v's canonical body for recipients and
// signs the resulting wrapper, enforcing invariant 5 (access:[{user:"*"}]
// forbids encryption — callers must not call this for public containers).
func EncodeEncrypted(ctx *sigctx.Context, fpr sigctx.Fingerprint, v VersionedObject, recipients []sigctx.Fingerprint) ([]byte, error) {
	cleartext, err := yaml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("manifest: marshal body: %w", err)
	}
	enc, err := ctx.Encrypt(cleartext, recipients)
	if err != nil {
		return nil, err
	}
	body, err := yaml.Marshal(encryptedBody{Encrypted: enc})
	if err != nil {
		return nil, fmt.Errorf("manifest: marshal encrypted wrapper: %w", err)
	}
	return assemble(ctx, fpr, body)
}

func assemble(ctx *sigctx.Context, fpr sigctx.Fingerprint, body []byte) ([]byte, error) {
	sig, err := ctx.Sign(fpr, body)
	if err != nil {
		return nil, err
	}
	hdr, err := yaml.Marshal(sigHeader{
		Signature: fmt.Sprintf("%s:%s", fpr, base64.StdEncoding.EncodeToString(sig)),
	})
	if err != nil {
		return nil, fmt.Errorf("manifest: marshal signature header: %w", err)
	}

	var out bytes.Buffer
	out.Write(hdr)
	out.WriteString("---\n")
	out.Write(body)
	log.Debugf("encoded manifest signed by %s (%d body bytes)", fpr, len(body))
	return out.Bytes(), nil
}
