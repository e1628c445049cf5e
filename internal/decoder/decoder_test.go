package decoder

import (
	"encoding/base64"
	"encoding/binary"
	"testing"

	"github.com/mr-tron/base58"

	"github.com/spinpet/kline-indexer/pkg/types"
)

func acctBytes(seed byte) []byte {
	b := make([]byte, 32)
	for i := range b {
		b[i] = seed
	}
	return b
}

func putU16(b []byte, v uint16) []byte { x := make([]byte, 2); binary.LittleEndian.PutUint16(x, v); return append(b, x...) }
func putU32(b []byte, v uint32) []byte { x := make([]byte, 4); binary.LittleEndian.PutUint32(x, v); return append(b, x...) }
func putU64(b []byte, v uint64) []byte { x := make([]byte, 8); binary.LittleEndian.PutUint64(x, v); return append(b, x...) }
func putStr(b []byte, s string) []byte { b = putU32(b, uint32(len(s))); return append(b, []byte(s)...) }

func TestDecodeTrade(t *testing.T) {
	frame := append([]byte{}, discrTrade[:]...)
	frame = append(frame, acctBytes(1)...)
	frame = append(frame, acctBytes(2)...)
	frame = append(frame, 1) // is_buy
	frame = putU64(frame, 500)
	frame = putU64(frame, 1000)
	frame = putU64(frame, 111)  // price lo
	frame = putU64(frame, 0)    // price hi
	b64 := base64.StdEncoding.EncodeToString(frame)

	ev, err := Decode(b64)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type != types.EventTrade {
		t.Fatalf("type = %v, want trade", ev.Type)
	}
	if !ev.Trade.IsBuy {
		t.Errorf("IsBuy = false, want true")
	}
	if ev.Trade.TokenAmount != 500 || ev.Trade.QuoteAmount != 1000 {
		t.Errorf("amounts = %d/%d, want 500/1000", ev.Trade.TokenAmount, ev.Trade.QuoteAmount)
	}
	if ev.Trade.LatestPrice.Lo != 111 {
		t.Errorf("price lo = %d, want 111", ev.Trade.LatestPrice.Lo)
	}
	wantMint := base58.Encode(acctBytes(2))
	if ev.MintAccount != wantMint {
		t.Errorf("mint = %s, want %s", ev.MintAccount, wantMint)
	}
}

func TestDecodeCreatedWithoutOptionalTail(t *testing.T) {
	frame := append([]byte{}, discrCreated[:]...)
	frame = append(frame, acctBytes(1)...)
	frame = append(frame, acctBytes(2)...)
	frame = append(frame, acctBytes(3)...)
	frame = putStr(frame, "Spin Token")
	frame = putStr(frame, "SPIN")
	frame = putStr(frame, "ipfs://abc")
	b64 := base64.StdEncoding.EncodeToString(frame)

	ev, err := Decode(b64)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Created.Name != "Spin Token" || ev.Created.Symbol != "SPIN" {
		t.Errorf("name/symbol = %q/%q", ev.Created.Name, ev.Created.Symbol)
	}
	wantPayer := base58.Encode(acctBytes(1))
	if ev.Created.Creator != wantPayer {
		t.Errorf("creator defaulted to %s, want payer %s", ev.Created.Creator, wantPayer)
	}
	if ev.Created.InitialSwapFee != 0 {
		t.Errorf("InitialSwapFee = %d, want 0 when tail absent", ev.Created.InitialSwapFee)
	}
}

func TestDecodeCreatedWithOptionalTail(t *testing.T) {
	frame := append([]byte{}, discrCreated[:]...)
	frame = append(frame, acctBytes(1)...)
	frame = append(frame, acctBytes(2)...)
	frame = append(frame, acctBytes(3)...)
	frame = putStr(frame, "Spin Token")
	frame = putStr(frame, "SPIN")
	frame = putStr(frame, "ipfs://abc")
	frame = putU16(frame, 30)
	frame = putU16(frame, 50)
	frame = append(frame, acctBytes(9)...)
	b64 := base64.StdEncoding.EncodeToString(frame)

	ev, err := Decode(b64)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Created.InitialSwapFee != 30 || ev.Created.InitialBorrowFee != 50 {
		t.Errorf("fees = %d/%d, want 30/50", ev.Created.InitialSwapFee, ev.Created.InitialBorrowFee)
	}
	wantCreator := base58.Encode(acctBytes(9))
	if ev.Created.Creator != wantCreator {
		t.Errorf("creator = %s, want %s", ev.Created.Creator, wantCreator)
	}
}

func TestDecodeUnknownDiscriminator(t *testing.T) {
	frame := make([]byte, 16)
	b64 := base64.StdEncoding.EncodeToString(frame)
	if _, err := Decode(b64); err != ErrUnknownDiscriminator {
		t.Fatalf("err = %v, want ErrUnknownDiscriminator", err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	frame := append([]byte{}, discrTrade[:]...)
	frame = append(frame, acctBytes(1)...)
	b64 := base64.StdEncoding.EncodeToString(frame)
	if _, err := Decode(b64); err != ErrTruncated {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
}

func TestDecodeLiquidate(t *testing.T) {
	frame := append([]byte{}, discrLiquidate[:]...)
	frame = append(frame, acctBytes(1)...)
	frame = append(frame, acctBytes(2)...)
	frame = append(frame, acctBytes(3)...)
	b64 := base64.StdEncoding.EncodeToString(frame)

	ev, err := Decode(b64)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	wantPDA := base58.Encode(acctBytes(3))
	if ev.Liquidate.OrderPDA != wantPDA {
		t.Errorf("order_pda = %s, want %s", ev.Liquidate.OrderPDA, wantPDA)
	}
}

func TestDecodeFeeUpdate(t *testing.T) {
	frame := append([]byte{}, discrFeeUpdate[:]...)
	frame = append(frame, acctBytes(1)...)
	frame = append(frame, acctBytes(2)...)
	frame = putU16(frame, 25)
	frame = putU16(frame, 75)
	frame = append(frame, 2) // fee_discount_flag
	b64 := base64.StdEncoding.EncodeToString(frame)

	ev, err := Decode(b64)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.FeeUpdate.SwapFeeBps != 25 || ev.FeeUpdate.BorrowFeeBps != 75 {
		t.Errorf("fees = %d/%d, want 25/75", ev.FeeUpdate.SwapFeeBps, ev.FeeUpdate.BorrowFeeBps)
	}
	if ev.FeeUpdate.FeeDiscountFlag != 2 {
		t.Errorf("flag = %d, want 2", ev.FeeUpdate.FeeDiscountFlag)
	}
}

func TestPriceToBig(t *testing.T) {
	p := types.Price{Hi: 1, Lo: 0}
	got := PriceToBig(p)
	want := "18446744073709551616" // 2^64
	if got.String() != want {
		t.Errorf("PriceToBig = %s, want %s", got.String(), want)
	}
}
