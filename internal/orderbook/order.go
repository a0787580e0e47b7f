package orderbook

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Order is one resting or in-flight order, generalizing the teacher's Order
// (pkg/app/core/types.go: ID, Symbol, Side, Price, Qty, Type, OwnerHex)
// from integer ticks/lots to *big.Int and adding the fee-opt-in and bond
// fields spec.md §4.5 requires.
type Order struct {
	ID        string
	Owner     common.Address
	Side      Side
	Price     *big.Int
	Remaining *big.Int
	TIF       TimeInForce
	ExpiryMs  int64 // 0 means no expiry

	PayFeeInUnxv bool

	// bond is the maker bond locked in the market's quote asset when this
	// order rests. Zero until the order actually rests.
	bond *big.Int
}

// Fill records one match between a taker and a resting maker order.
type Fill struct {
	TakerOrderID string
	MakerOrderID string
	TakerOwner   common.Address
	MakerOwner   common.Address
	Price        *big.Int
	Qty          *big.Int
	TakerFee     *big.Int
	MakerFee     *big.Int
}
