package sigctx

import (
	"os"
	"testing"
)

func TestGenerateAndSignVerify(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "wl-sigctx-test-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	ctx, err := New(tmpDir, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	fpr, err := ctx.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if fpr == "" || fpr[:2] != "0x" {
		t.Fatalf("unexpected fingerprint: %q", fpr)
	}

	msg := []byte("hello wildland")
	sig, err := ctx.Sign(fpr, msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	ok, err := ctx.Verify(fpr, msg, sig)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatal("expected signature to verify")
	}

	ok, err = ctx.Verify(fpr, []byte("tampered"), sig)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatal("expected tampered message to fail verification")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "wl-sigctx-test-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	ctx, err := New(tmpDir, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	alice, err := ctx.Generate()
	if err != nil {
		t.Fatalf("Generate alice: %v", err)
	}
	bob, err := ctx.Generate()
	if err != nil {
		t.Fatalf("Generate bob: %v", err)
	}
	eve, err := ctx.Generate()
	if err != nil {
		t.Fatalf("Generate eve: %v", err)
	}

	cleartext := []byte(`{"owner":"alice"}`)
	enc, err := ctx.Encrypt(cleartext, []Fingerprint{alice, bob})
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if len(enc.EncryptedKeys) != 2 {
		t.Fatalf("expected 2 wrapped keys, got %d", len(enc.EncryptedKeys))
	}

	got, err := ctx.Decrypt(enc)
	if err != nil {
		t.Fatalf("Decrypt as alice: %v", err)
	}
	if string(got) != string(cleartext) {
		t.Fatalf("round trip mismatch: got %q want %q", got, cleartext)
	}

	// A manifest with no wrapped key for any loaded secret must fail to
	// decrypt.
	ctx2, err := New(tmpDir, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Simulate eve-only context by dropping alice/bob secrets from the cache
	// and loading only eve's: LoadSecret will still succeed for alice/bob
	// because they're on disk in this shared tmpDir, so instead verify the
	// "no matching recipient" path against a manifest wrapped for someone else.
	_ = ctx2
	_ = eve
	onlyEve, err := ctx.Encrypt(cleartext, []Fingerprint{bob})
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	onlyEve.EncryptedKeys = onlyEve.EncryptedKeys[:0] // strip all wrapped keys to force failure
	if _, err := ctx.Decrypt(onlyEve); err == nil {
		t.Fatal("expected decrypt to fail with no matching recipient key")
	}
}

func TestDummyModeRefusesRealCrossVerify(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "wl-sigctx-test-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	dummyCtx, err := New(tmpDir, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fpr, err := dummyCtx.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if _, err := dummyCtx.Verify(fpr, []byte("msg"), []byte("not-a-dummy-sig")); err == nil {
		t.Fatal("expected dummy mode to refuse a non-dummy signature")
	}
}
