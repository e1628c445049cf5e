// Package decoder turns base64 program-log frames into typed events.
//
// Every emitted event is prefixed with an 8-byte discriminator followed by a
// little-endian body; bodies are fixed-width except for Created, which
// carries length-prefixed strings and an optional tail. Account identifiers are 32 raw bytes,
// rendered as base58 on the way out. Layouts are grounded on the upstream
// program's event structs, byte for byte.
package decoder

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/mr-tron/base58"

	"github.com/spinpet/kline-indexer/pkg/types"
)

var (
	discrCreated       = [8]byte{96, 122, 113, 138, 50, 227, 149, 57}
	discrTrade         = [8]byte{98, 208, 120, 60, 93, 32, 19, 180}
	discrOpen          = [8]byte{27, 69, 20, 116, 58, 250, 95, 220}
	discrLiquidate     = [8]byte{234, 196, 183, 105, 40, 26, 206, 48}
	discrCloseFull     = [8]byte{22, 244, 113, 245, 154, 168, 109, 139}
	discrClosePartial  = [8]byte{133, 94, 3, 222, 24, 68, 69, 155}
	discrFeeUpdate     = [8]byte{71, 200, 3, 9, 142, 17, 211, 64}
)

// ErrUnknownDiscriminator is returned when a frame's leading 8 bytes don't
// match any known event discriminator. Callers should log and skip.
var ErrUnknownDiscriminator = fmt.Errorf("decoder: unknown discriminator")

// ErrTruncated is returned when a frame is shorter than its variant requires.
var ErrTruncated = fmt.Errorf("decoder: truncated frame")

// Decode parses one "Program data: <base64>" payload (the part after the
// prefix has already been stripped by the caller) into a types.Event. Slot,
// Signature and Timestamp are not carried on the wire frame itself; the
// caller fills them in from the surrounding transaction context.
func Decode(b64 string) (*types.Event, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decoder: base64: %w", err)
	}
	if len(raw) < 8 {
		return nil, ErrTruncated
	}
	var discr [8]byte
	copy(discr[:], raw[:8])
	body := raw[8:]

	switch discr {
	case discrCreated:
		return decodeCreated(body)
	case discrTrade:
		return decodeTrade(body)
	case discrOpen:
		return decodeOpen(body)
	case discrLiquidate:
		return decodeLiquidate(body)
	case discrCloseFull:
		return decodeCloseFull(body)
	case discrClosePartial:
		return decodeClosePartial(body)
	case discrFeeUpdate:
		return decodeFeeUpdate(body)
	default:
		return nil, ErrUnknownDiscriminator
	}
}

func acct(b []byte, off int) string {
	return base58.Encode(b[off : off+32])
}

func u16(b []byte, off int) uint16 { return binary.LittleEndian.Uint16(b[off:]) }
func u32(b []byte, off int) uint32 { return binary.LittleEndian.Uint32(b[off:]) }
func u64(b []byte, off int) uint64 { return binary.LittleEndian.Uint64(b[off:]) }

func u128(b []byte, off int) types.Price {
	return types.Price{Lo: binary.LittleEndian.Uint64(b[off : off+8]), Hi: binary.LittleEndian.Uint64(b[off+8 : off+16])}
}

func readString(b []byte, off int) (string, int, error) {
	if off+4 > len(b) {
		return "", 0, ErrTruncated
	}
	n := int(u32(b, off))
	off += 4
	if off+n > len(b) {
		return "", 0, ErrTruncated
	}
	return string(b[off : off+n]), off + n, nil
}

func decodeCreated(b []byte) (*types.Event, error) {
	if len(b) < 96 {
		return nil, ErrTruncated
	}
	ev := &types.CreatedEvent{
		Payer:        acct(b, 0),
		MintAccount:  acct(b, 32),
		CurveAccount: acct(b, 64),
	}
	off := 96
	var err error
	if ev.Name, off, err = readString(b, off); err != nil {
		return nil, err
	}
	if ev.Symbol, off, err = readString(b, off); err != nil {
		return nil, err
	}
	if ev.URI, off, err = readString(b, off); err != nil {
		return nil, err
	}
	ev.Creator = ev.Payer
	if off+4 <= len(b) {
		ev.InitialSwapFee = u16(b, off)
		ev.InitialBorrowFee = u16(b, off+2)
		off += 4
		if off+32 <= len(b) {
			ev.Creator = acct(b, off)
			off += 32
		}
	}
	return &types.Event{
		Type:        types.EventCreated,
		MintAccount: ev.MintAccount,
		Created:     ev,
	}, nil
}

func decodeTrade(b []byte) (*types.Event, error) {
	if len(b) < 97 {
		return nil, ErrTruncated
	}
	ev := &types.TradeEvent{
		Payer:       acct(b, 0),
		MintAccount: acct(b, 32),
		IsBuy:       b[64] != 0,
		TokenAmount: u64(b, 65),
		QuoteAmount: u64(b, 73),
		LatestPrice: u128(b, 81),
	}
	return &types.Event{
		Type:        types.EventTrade,
		MintAccount: ev.MintAccount,
		Trade:       ev,
	}, nil
}

func decodeOpen(b []byte) (*types.Event, error) {
	if len(b) < 259 {
		return nil, ErrTruncated
	}
	ev := &types.OpenEvent{
		Payer:             acct(b, 0),
		MintAccount:       acct(b, 32),
		OrderPDA:          acct(b, 64),
		LatestPrice:       u128(b, 96),
		OrderType:         b[112],
		Mint:              acct(b, 113),
		User:              acct(b, 145),
		LockLPStartPrice:  u128(b, 177),
		LockLPEndPrice:    u128(b, 193),
		LockLPQuoteAmount: u64(b, 209),
		LockLPTokenAmount: u64(b, 217),
		StartTime:         u32(b, 225),
		EndTime:           u32(b, 229),
		MarginAmount:      u64(b, 233),
		BorrowAmount:      u64(b, 241),
		PositionAmount:    u64(b, 249),
		BorrowFeeBps:      u16(b, 257),
	}
	return &types.Event{
		Type:        types.EventOpen,
		MintAccount: ev.MintAccount,
		Open:        ev,
	}, nil
}

func decodeLiquidate(b []byte) (*types.Event, error) {
	if len(b) < 96 {
		return nil, ErrTruncated
	}
	ev := &types.LiquidateEvent{
		Payer:       acct(b, 0),
		MintAccount: acct(b, 32),
		OrderPDA:    acct(b, 64),
	}
	return &types.Event{
		Type:        types.EventLiquidate,
		MintAccount: ev.MintAccount,
		Liquidate:   ev,
	}, nil
}

func decodeCloseFull(b []byte) (*types.Event, error) {
	if len(b) < 169 {
		return nil, ErrTruncated
	}
	ev := &types.CloseFullEvent{
		Payer:            acct(b, 0),
		UserSolAccount:   acct(b, 32),
		MintAccount:      acct(b, 64),
		IsCloseLong:      b[96] != 0,
		FinalTokenAmount: u64(b, 97),
		FinalQuoteAmount: u64(b, 105),
		RealizedProfit:   u64(b, 113),
		LatestPrice:      u128(b, 121),
		OrderPDA:         acct(b, 137),
	}
	return &types.Event{
		Type:        types.EventCloseFull,
		MintAccount: ev.MintAccount,
		CloseFull:   ev,
	}, nil
}

func decodeClosePartial(b []byte) (*types.Event, error) {
	if len(b) < 316 {
		return nil, ErrTruncated
	}
	ev := &types.ClosePartialEvent{
		Payer:             acct(b, 0),
		UserSolAccount:    acct(b, 32),
		MintAccount:       acct(b, 64),
		IsCloseLong:       b[96] != 0,
		FinalTokenAmount:  u64(b, 97),
		FinalQuoteAmount:  u64(b, 105),
		RealizedProfit:    u64(b, 113),
		LatestPrice:       u128(b, 121),
		OrderPDA:          acct(b, 137),
		OrderType:         b[169],
		Mint:              acct(b, 170),
		User:              acct(b, 202),
		LockLPStartPrice:  u128(b, 234),
		LockLPEndPrice:    u128(b, 250),
		LockLPQuoteAmount: u64(b, 266),
		LockLPTokenAmount: u64(b, 274),
		StartTime:         u32(b, 282),
		EndTime:           u32(b, 286),
		MarginAmount:      u64(b, 290),
		BorrowAmount:      u64(b, 298),
		PositionAmount:    u64(b, 306),
		BorrowFeeBps:      u16(b, 314),
	}
	return &types.Event{
		Type:        types.EventClosePartial,
		MintAccount: ev.MintAccount,
		ClosePartial: ev,
	}, nil
}

func decodeFeeUpdate(b []byte) (*types.Event, error) {
	if len(b) < 68 {
		return nil, ErrTruncated
	}
	ev := &types.FeeUpdateEvent{
		Payer:        acct(b, 0),
		MintAccount:  acct(b, 32),
		SwapFeeBps:   u16(b, 64),
		BorrowFeeBps: u16(b, 66),
	}
	if len(b) >= 69 {
		ev.FeeDiscountFlag = b[68]
	}
	return &types.Event{
		Type:        types.EventFeeUpdate,
		MintAccount: ev.MintAccount,
		FeeUpdate:   ev,
	}, nil
}

// PriceToBig converts a raw u128 halves pair into a big.Int.
func PriceToBig(p types.Price) *big.Int {
	hi := new(big.Int).SetUint64(p.Hi)
	hi.Lsh(hi, 64)
	lo := new(big.Int).SetUint64(p.Lo)
	return hi.Or(hi, lo)
}
