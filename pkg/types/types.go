// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the indexer — decoded chain
// events, derived orders, candles, and the push-fanout wire payloads. It has
// no dependencies on internal packages, so it can be imported by any layer.
package types

import "time"

// ————————————————————————————————————————————————————————————————————————
// Event kinds
// ————————————————————————————————————————————————————————————————————————

// EventType is the two-letter code used in storage keys, in the Type field
// of Event, and in the "event_type" field of a serialized UserTransaction.
type EventType string

const (
	EventCreated      EventType = "tc"
	EventTrade        EventType = "bs"
	EventOpen         EventType = "ls"
	EventLiquidate    EventType = "fl"
	EventCloseFull    EventType = "fc"
	EventClosePartial EventType = "pc"
	EventFeeUpdate    EventType = "md"
)

// Event is the tagged union of all seven on-chain event variants. Exactly
// one of the pointer fields is non-nil. Every variant carries Slot,
// Signature, Timestamp and MintAccount at the top level for uniform
// indexing regardless of which variant is set.
type Event struct {
	Type        EventType
	Slot        uint64
	Signature   string
	Timestamp   time.Time
	MintAccount string

	Created      *CreatedEvent
	Trade        *TradeEvent
	Open         *OpenEvent
	Liquidate    *LiquidateEvent
	CloseFull    *CloseFullEvent
	ClosePartial *ClosePartialEvent
	FeeUpdate    *FeeUpdateEvent
}

// CreatedEvent carries full instrument metadata emitted once per mint.
type CreatedEvent struct {
	Payer            string
	MintAccount      string
	CurveAccount     string
	Name             string
	Symbol           string
	URI              string
	InitialSwapFee   uint16
	InitialBorrowFee uint16
	Creator          string
}

// TradeEvent is a spot buy or sell against the bonding curve.
type TradeEvent struct {
	Payer       string
	MintAccount string
	IsBuy       bool
	TokenAmount uint64
	QuoteAmount uint64
	LatestPrice Price
}

// OpenEvent opens a new leveraged position.
type OpenEvent struct {
	Payer             string
	MintAccount       string
	OrderPDA          string
	LatestPrice       Price
	OrderType         uint8 // 1 = long, 2 = short
	Mint              string
	User              string
	LockLPStartPrice  Price
	LockLPEndPrice    Price
	LockLPQuoteAmount uint64
	LockLPTokenAmount uint64
	StartTime         uint32
	EndTime           uint32
	MarginAmount      uint64
	BorrowAmount      uint64
	PositionAmount    uint64
	BorrowFeeBps      uint16
}

// LiquidateEvent force-closes an order; the side is not carried on the wire
// and must be discovered by probing both order-index keys.
type LiquidateEvent struct {
	Payer       string
	MintAccount string
	OrderPDA    string
}

// CloseFullEvent terminates an order completely.
type CloseFullEvent struct {
	Payer            string
	UserSolAccount   string
	MintAccount      string
	IsCloseLong      bool
	FinalTokenAmount uint64
	FinalQuoteAmount uint64
	RealizedProfit   uint64
	LatestPrice      Price
	OrderPDA         string
}

// ClosePartialEvent mutates an order in place and reports a realized slice
// of profit. It carries the same position fields as OpenEvent.
type ClosePartialEvent struct {
	Payer             string
	UserSolAccount    string
	MintAccount       string
	IsCloseLong       bool
	FinalTokenAmount  uint64
	FinalQuoteAmount  uint64
	RealizedProfit    uint64
	LatestPrice       Price
	OrderPDA          string
	OrderType         uint8
	Mint              string
	User              string
	LockLPStartPrice  Price
	LockLPEndPrice    Price
	LockLPQuoteAmount uint64
	LockLPTokenAmount uint64
	StartTime         uint32
	EndTime           uint32
	MarginAmount      uint64
	BorrowAmount      uint64
	PositionAmount    uint64
	BorrowFeeBps      uint16
}

// FeeUpdateEvent adjusts fee parameters for an instrument.
type FeeUpdateEvent struct {
	Payer           string
	MintAccount     string
	SwapFeeBps      uint16
	BorrowFeeBps    uint16
	FeeDiscountFlag uint8
}

// IsPriceBearing reports whether the event carries a latest price and
// therefore feeds the candle aggregator.
func (e *Event) IsPriceBearing() bool {
	switch e.Type {
	case EventTrade, EventOpen, EventCloseFull, EventClosePartial:
		return true
	default:
		return false
	}
}

// Side is the order-index bucket an order is filed under: "up" or "dn".
// See SideFromOrderType for how the order_type byte maps onto it.
type Side string

const (
	SideUp Side = "up"
	SideDn Side = "dn"
)

// SideFromOrderType maps the wire order_type byte to the order-index Side.
// order_type 2 (short) indexes under "up", anything else (long) under "dn" —
// the index bucket tracks the locked LP price band, not the position
// direction, so it does not read as "long=up".
func SideFromOrderType(orderType uint8) Side {
	if orderType == 2 {
		return SideUp
	}
	return SideDn
}

// SideFromCloseLong maps CloseFull/ClosePartial's is_close_long flag back to
// the order_type the order was opened with (long closes were opened with
// order_type 1, short closes with order_type 2) and then to its Side.
func SideFromCloseLong(isCloseLong bool) Side {
	if isCloseLong {
		return SideFromOrderType(1)
	}
	return SideFromOrderType(2)
}

// ————————————————————————————————————————————————————————————————————————
// Price — u128 fixed point, 28 decimals on the wire
// ————————————————————————————————————————————————————————————————————————

// Price is a raw 28-decimal fixed-point integer as emitted by the program.
// It is stored as two uint64 halves (hi:lo) since Go has no native u128;
// arithmetic needed by this service (decimal conversion only) is done via
// math/big at the point of use.
type Price struct {
	Hi uint64
	Lo uint64
}

// ————————————————————————————————————————————————————————————————————————
// Order — derived, mutable, store-resident
// ————————————————————————————————————————————————————————————————————————

// Order is the persisted projection of an open leveraged position. It is
// created by Open, mutated in place by ClosePartial, and removed by
// CloseFull or Liquidate.
type Order struct {
	MintAccount       string `json:"mint_account"`
	OrderPDA          string `json:"order_pda"`
	OrderType         uint8  `json:"order_type"`
	User              string `json:"user"`
	Mint              string `json:"mint"`
	LockLPStartPrice  string `json:"lock_lp_start_price"`
	LockLPEndPrice    string `json:"lock_lp_end_price"`
	LockLPQuoteAmount uint64 `json:"lock_lp_sol_amount"`
	LockLPTokenAmount uint64 `json:"lock_lp_token_amount"`
	StartTime         uint32 `json:"start_time"`
	EndTime           uint32 `json:"end_time"`
	MarginAmount      uint64 `json:"margin_sol_amount"`
	BorrowAmount      uint64 `json:"borrow_amount"`
	PositionAmount    uint64 `json:"position_asset_amount"`
	BorrowFeeBps      uint16 `json:"borrow_fee"`
	LatestPrice       string `json:"latest_price"`
	LastUpdatedSlot   uint64 `json:"last_updated_slot"`
}

// ————————————————————————————————————————————————————————————————————————
// Mint-detail aggregate
// ————————————————————————————————————————————————————————————————————————

// MintDetail is the one-per-instrument aggregate record.
type MintDetail struct {
	MintAccount       string          `json:"mint_account"`
	CurveAccount      string          `json:"curve_account"`
	Name              string          `json:"name"`
	Symbol            string          `json:"symbol"`
	URI               string          `json:"uri"`
	Creator           string          `json:"creator"`
	SwapFeeBps        uint16          `json:"swap_fee_bps"`
	BorrowFeeBps      uint16          `json:"borrow_fee_bps"`
	FeeDiscountFlag   uint8           `json:"fee_discount_flag"`
	LatestPrice       string          `json:"latest_price"`
	LatestTradeTime   time.Time       `json:"latest_trade_time"`
	TotalQuoteVolume  uint64          `json:"total_quote_volume"`
	TotalMarginVolume uint64          `json:"total_margin_volume"`
	TotalLiquidations uint64          `json:"total_force_liquidations"`
	TotalCloseProfit  uint64          `json:"total_close_profit"`
	Metadata          *TokenMetadata  `json:"metadata,omitempty"`
	LastUpdatedAt     time.Time       `json:"last_updated_at"`
	CreatedAt         time.Time       `json:"created_at"`
}

// TokenMetadata is the parsed JSON document fetched asynchronously from the
// content-addressed gateway referenced by a Created event's URI.
type TokenMetadata struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
	Image       string `json:"image"`
}

// ————————————————————————————————————————————————————————————————————————
// User transaction projection
// ————————————————————————————————————————————————————————————————————————

// UserTransaction projects any non-Trade/Created event onto (user, mint, slot).
type UserTransaction struct {
	User        string    `json:"user"`
	MintAccount string    `json:"mint_account"`
	Slot        uint64    `json:"slot"`
	Type        EventType `json:"event_type"`
	Signature   string    `json:"signature"`
	Timestamp   time.Time `json:"timestamp"`
	Event       any       `json:"event"`
}

// ————————————————————————————————————————————————————————————————————————
// Candles
// ————————————————————————————————————————————————————————————————————————

// Interval is a candle bucketing width.
type Interval string

const (
	Interval1s  Interval = "s1"
	Interval30s Interval = "s30"
	Interval5m  Interval = "m5"
)

// Intervals lists every candle width the aggregator maintains, in the
// order the pipeline updates and broadcasts them.
var Intervals = []Interval{Interval1s, Interval30s, Interval5m}

// Seconds returns the bucket width of the interval in seconds.
func (iv Interval) Seconds() uint64 {
	switch iv {
	case Interval1s:
		return 1
	case Interval30s:
		return 30
	case Interval5m:
		return 300
	default:
		return 1
	}
}

// Candle is one OHLC record for (interval, mint, bucket_start).
type Candle struct {
	MintAccount string   `json:"mint_account"`
	Interval    Interval `json:"interval"`
	BucketStart uint64   `json:"bucket_start"`
	Open        float64  `json:"open"`
	High        float64  `json:"high"`
	Low         float64  `json:"low"`
	Close       float64  `json:"close"`
	Volume      float64  `json:"volume"`
	IsFinal     bool     `json:"is_final"`
	UpdateCount uint32   `json:"update_count"`
}

// ————————————————————————————————————————————————————————————————————————
// Push-fanout wire payloads (namespace "/kline")
// ————————————————————————————————————————————————————————————————————————

// ConnectionSuccess is sent once when a client connects.
type ConnectionSuccess struct {
	ClientID           string     `json:"client_id"`
	ServerTime         int64      `json:"server_time"`
	SupportedIntervals []Interval `json:"supported_intervals"`
}

// SubscribeRequest is the "subscribe" client event payload.
type SubscribeRequest struct {
	Symbol         string   `json:"symbol"`
	Interval       Interval `json:"interval"`
	SubscriptionID string   `json:"subscription_id,omitempty"`
}

// UnsubscribeRequest is the "unsubscribe" client event payload.
type UnsubscribeRequest struct {
	Symbol         string   `json:"symbol"`
	Interval       Interval `json:"interval"`
	SubscriptionID string   `json:"subscription_id,omitempty"`
}

// HistoryRequest is the ad-hoc "history" client event payload.
type HistoryRequest struct {
	Symbol   string   `json:"symbol"`
	Interval Interval `json:"interval"`
	Limit    int      `json:"limit,omitempty"`
	From     uint64   `json:"from,omitempty"`
}

// SubscriptionAck acknowledges a subscribe/unsubscribe request.
type SubscriptionAck struct {
	Symbol         string   `json:"symbol"`
	Interval       Interval `json:"interval"`
	SubscriptionID string   `json:"subscription_id,omitempty"`
	Success        bool     `json:"success"`
}

// HistoryData is a backfill response.
type HistoryData struct {
	Symbol     string   `json:"symbol"`
	Interval   Interval `json:"interval"`
	Data       []Candle `json:"data"`
	HasMore    bool     `json:"has_more"`
	TotalCount int      `json:"total_count"`
}

// KlineData is a single live candle update.
type KlineData struct {
	Symbol      string   `json:"symbol"`
	Interval    Interval `json:"interval"`
	Data        Candle   `json:"data"`
	TimestampMs int64    `json:"timestamp_ms"`
}

// ErrorCode enumerates the stable numeric codes returned on rejected
// push-protocol requests.
type ErrorCode int

const (
	ErrValidation        ErrorCode = 1001
	ErrSubscriptionLimit ErrorCode = 1002
	ErrStorageFailure    ErrorCode = 1003
)

// ErrorPayload is the "error" event payload.
type ErrorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// ————————————————————————————————————————————————————————————————————————
// Query-endpoint envelope (§6)
// ————————————————————————————————————————————————————————————————————————

// Envelope is the response shape for every HTTP query endpoint.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}
