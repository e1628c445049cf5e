package storage

import (
	"fmt"

	"github.com/spinpet/kline-indexer/pkg/types"
)

// Key prefixes, one per index. Keeping them as named constants (rather than
// inlining the literal) makes the prefix-iteration bounds in query.go
// self-documenting.
const (
	prefixEvent    = "tr"
	prefixMint     = "mt"
	prefixOrder    = "or"
	prefixUserTx   = "us"
	prefixUserOrd  = "uo"
	prefixMintInfo = "in"
)

func eventKey(mint string, slot uint64, eventType types.EventType, signature string) string {
	return fmt.Sprintf("%s:%s:%010d:%s:%s", prefixEvent, mint, slot, eventType, signature)
}

func mintKey(slot uint64, mint string) string {
	return fmt.Sprintf("%s:%010d:%s", prefixMint, slot, mint)
}

func orderKey(mint string, side types.Side, orderPDA string) string {
	return fmt.Sprintf("%s:%s:%s:%s", prefixOrder, mint, side, orderPDA)
}

func userTxKey(user, mint string, slot uint64) string {
	return fmt.Sprintf("%s:%s:%s:%010d", prefixUserTx, user, mint, slot)
}

func userOrderKey(user, mint, orderPDA string) string {
	return fmt.Sprintf("%s:%s:%s:%s", prefixUserOrd, user, mint, orderPDA)
}

func klineKey(interval types.Interval, mint string, bucket uint64) string {
	return fmt.Sprintf("%s:%s:%020d", interval, mint, bucket)
}

func mintDetailKey(mint string) string {
	return fmt.Sprintf("%s:%s", prefixMintInfo, mint)
}
