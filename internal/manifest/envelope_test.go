package manifest

import (
	"os"
	"testing"

	"github.com/pbeza/wildland-client/internal/objectmodel"
	"github.com/pbeza/wildland-client/internal/sigctx"
)

func newTestContext(t *testing.T) (*sigctx.Context, sigctx.Fingerprint) {
	t.Helper()
	tmp, err := os.MkdirTemp("", "wl-manifest-test-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmp) })

	ctx, err := sigctx.New(tmp, false)
	if err != nil {
		t.Fatalf("sigctx.New: %v", err)
	}
	fpr, err := ctx.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return ctx, fpr
}

func TestRoundTripCleartext(t *testing.T) {
	ctx, fpr := newTestContext(t)

	c := objectmodel.NewContainer(string(fpr), nil)
	c.Title = "demo"

	wire, err := Encode(ctx, fpr, c)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	env, err := Parse(wire)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := env.Verify(ctx); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	body, err := env.Open(ctx)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var got objectmodel.Container
	if err := DecodeInto(body, &got); err != nil {
		t.Fatalf("DecodeInto: %v", err)
	}
	if got.Title != c.Title || got.Paths[0] != c.Paths[0] {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, c)
	}
}

func TestRoundTripEncrypted(t *testing.T) {
	ctx, fpr := newTestContext(t)
	bobFpr, err := ctx.Generate()
	if err != nil {
		t.Fatalf("Generate bob: %v", err)
	}

	c := objectmodel.NewContainer(string(fpr), nil)
	c.Title = "secret"

	wire, err := EncodeEncrypted(ctx, fpr, c, []sigctx.Fingerprint{fpr, bobFpr})
	if err != nil {
		t.Fatalf("EncodeEncrypted: %v", err)
	}

	env, err := Parse(wire)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !env.IsEncrypted() {
		t.Fatal("expected envelope to be encrypted")
	}
	if err := env.Verify(ctx); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	body, err := env.Open(ctx)
	if err != nil {
		t.Fatalf("Open as bob/alice: %v", err)
	}
	var got objectmodel.Container
	if err := DecodeInto(body, &got); err != nil {
		t.Fatalf("DecodeInto: %v", err)
	}
	if got.Title != c.Title {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, c)
	}
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	body := []byte("version: \"2\"\nowner: \"0xabc\"\npaths: [\"/.uuid/x\"]\n")
	var c objectmodel.Container
	if err := DecodeInto(body, &c); err == nil {
		t.Fatal("expected unknown version to be rejected")
	}
}

func TestVerifyFailsOnTamperedBody(t *testing.T) {
	ctx, fpr := newTestContext(t)
	c := objectmodel.NewContainer(string(fpr), nil)
	wire, err := Encode(ctx, fpr, c)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	tampered := append([]byte{}, wire...)
	tampered = append(tampered, []byte("\ntitle: injected\n")...)

	env, err := Parse(tampered)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := env.Verify(ctx); err == nil {
		t.Fatal("expected signature verification to fail on tampered body")
	}
}
