package exchange

import (
	"errors"
	"math/big"
	"testing"
)

func TestFillOrderPayloadRoundTrip(t *testing.T) {
	order := sampleOrder()
	sig := Signature{V: 28}
	sig.R[0] = 0xaa
	sig.S[31] = 0xbb

	payload, err := EncodeFillOrderArgs(order, big.NewInt(50), sig)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	sel, ok := PayloadSelector(payload)
	if !ok || sel != FillOrderSelector {
		t.Fatalf("selector = %x, want fillOrder selector", sel)
	}

	args, err := DecodeFillOrderArgs(payload)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if args.TakerAssetFillAmount.Int64() != 50 {
		t.Errorf("fill amount = %s, want 50", args.TakerAssetFillAmount)
	}
	if args.Signature != sig {
		t.Errorf("signature = %+v, want %+v", args.Signature, sig)
	}

	// identity must survive the trip: same order hash on both sides
	want, _ := order.Hash(testVenue)
	got, err := args.Order.Hash(testVenue)
	if err != nil {
		t.Fatalf("hash decoded order: %v", err)
	}
	if got != want {
		t.Errorf("decoded order hash = %s, want %s", got.Hex(), want.Hex())
	}
}

func TestDecodeFillOrderArgsMalformed(t *testing.T) {
	order := sampleOrder()
	payload, err := EncodeFillOrderArgs(order, big.NewInt(50), Signature{V: 27})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	// short payload
	if _, err := DecodeFillOrderArgs(payload[:fillOrderFixedLen-1]); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("err = %v, want ErrMalformedPayload for short payload", err)
	}

	// truncated signature blob
	if _, err := DecodeFillOrderArgs(payload[:len(payload)-10]); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("err = %v, want ErrMalformedPayload for truncated signature", err)
	}

	// wrong selector
	mangled := append([]byte(nil), payload...)
	mangled[0] ^= 0xff
	if _, err := DecodeFillOrderArgs(mangled); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("err = %v, want ErrMalformedPayload for wrong selector", err)
	}
}

func TestPayloadSelectorShortInput(t *testing.T) {
	if _, ok := PayloadSelector([]byte{1, 2, 3}); ok {
		t.Error("3-byte payload reported a selector")
	}
}
