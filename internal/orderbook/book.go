package orderbook

import (
	"container/heap"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/unxversal/core/internal/events"
	"github.com/unxversal/core/internal/fees"
	"github.com/unxversal/core/internal/fixedmath"
	"github.com/unxversal/core/internal/ledger"
	"github.com/unxversal/core/internal/staking"
)

var (
	// ErrUnknownOrder is returned by Cancel/Modify/ClaimMakerFills-adjacent
	// lookups for an order ID the book does not hold.
	ErrUnknownOrder = errors.New("orderbook: unknown order")
	// ErrNotOwner is returned when caller does not own the referenced order.
	ErrNotOwner = errors.New("orderbook: caller does not own order")
	// ErrModifyMustShrink names the resolution of spec.md's modify_order
	// Open Question: modify only ever reduces remaining size, preserving
	// time priority. Modify does not return it; a new size that is not
	// smaller than the remaining size is rejected with
	// ErrInsufficientRemaining.
	ErrModifyMustShrink = errors.New("orderbook: modify_order may only reduce remaining size")
	// ErrInsufficientRemaining is returned by Modify when the requested new
	// size is not strictly less than the order's current remaining size.
	ErrInsufficientRemaining = errors.New("orderbook: new size must be less than remaining")
)

type orderLoc struct {
	side  Side
	price *big.Int
}

// Book is the OrderBook shared object: a price-time priority matching
// engine over one Market. Grounded on the teacher's OrderBook
// (pkg/app/core/orderbook/orderbook.go: heap-based best-price tracking,
// price-level FIFO queues, an orderIndex for O(1) cancel), generalized to
// *big.Int prices/sizes and wired to the shared FeeEngine and balance
// primitive instead of the teacher's implicit account manager.
type Book struct {
	mu sync.Mutex

	market *Market
	ledger ledger.Primitive
	vault  *fees.Vault
	feeCfg *fees.ConfigStore
	staking *staking.Pool // may be nil: UNXV discount/reward wiring is optional
	events events.Emitter

	unxvAsset ledger.Asset

	bidHeap maxPriceHeap
	askHeap minPriceHeap
	bids    map[string][]*Order
	asks    map[string][]*Order
	index   map[string]orderLoc

	lastPrice *big.Int

	// claimable holds maker proceeds withheld at fill time until the maker
	// calls ClaimMakerFills, per spec.md §4.5's per-fill maker escrow.
	claimable map[common.Address]map[ledger.Asset]*big.Int
}

// NewBook constructs an empty book over market.
func NewBook(market *Market, prim ledger.Primitive, vault *fees.Vault, feeCfg *fees.ConfigStore, stakingPool *staking.Pool, unxvAsset ledger.Asset, emitter events.Emitter) *Book {
	if emitter == nil {
		emitter = events.Noop{}
	}
	return &Book{
		market:    market,
		ledger:    prim,
		vault:     vault,
		feeCfg:    feeCfg,
		staking:   stakingPool,
		events:    emitter,
		unxvAsset: unxvAsset,
		bids:      make(map[string][]*Order),
		asks:      make(map[string][]*Order),
		index:     make(map[string]orderLoc),
		lastPrice: big.NewInt(0),
		claimable: make(map[common.Address]map[ledger.Asset]*big.Int),
	}
}

func (b *Book) bestBid() *big.Int { return b.bidHeap.Peek() }
func (b *Book) bestAsk() *big.Int { return b.askHeap.Peek() }

func (b *Book) escrowAsset(side Side) ledger.Asset {
	if side == Buy {
		return b.market.QuoteAsset
	}
	return b.market.BaseAsset
}

func (b *Book) escrowAmount(side Side, price, qty *big.Int) *big.Int {
	if side == Buy {
		return new(big.Int).Mul(price, qty)
	}
	return new(big.Int).Set(qty)
}

// Place matches o against the resting book by price-time priority, crediting
// the taker immediately and withholding maker proceeds into the claimable
// bucket swept by ClaimMakerFills. Any remainder rests only if o.TIF is GTC;
// IOC remainders are discarded (the full notional is locked up front, and
// the escrow left over for the unfilled portion is unlocked).
func (b *Book) Place(o *Order, nowMs int64) ([]Fill, error) {
	if err := b.market.ValidateOrder(o.Price, o.Remaining); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	cfg := b.feeCfg.Get()

	// Escrow the taker's full notional up front; fills release it
	// incrementally, and any unfilled IOC remainder is unlocked at the end.
	origQty := new(big.Int).Set(o.Remaining)
	totalEscrow := b.escrowAmount(o.Side, o.Price, origQty)
	if err := b.ledger.Lock(b.escrowAsset(o.Side), o.Owner, totalEscrow); err != nil {
		return nil, err
	}

	var fills []Fill
	var consumedEscrow *big.Int
	if o.Side == Buy {
		fills, consumedEscrow = b.matchBuy(o, cfg, nowMs)
	} else {
		fills, consumedEscrow = b.matchSell(o, cfg, nowMs)
	}

	// consumedEscrow is the sum of actual trade notionals seized in settle,
	// not o.Price*filledQty: a buy taker crossing below its own limit price
	// must get the saved difference back rather than leave it stranded in
	// Locked (spec.md §4.5: trade price is the resting order's price).
	leftoverEscrow := new(big.Int).Sub(totalEscrow, consumedEscrow)

	if o.Remaining.Sign() > 0 && o.TIF == GTC {
		// Rests: leftoverEscrow stays locked for the resting remainder, plus
		// a maker bond on top.
		bond := fixedmath.MulBps(new(big.Int).Mul(o.Price, o.Remaining), b.market.MakerBondBps, fixedmath.RoundFloor)
		if bond.Sign() > 0 {
			if err := b.ledger.Lock(b.market.QuoteAsset, o.Owner, bond); err != nil {
				// Can't post the bond: unwind by unlocking everything and
				// surfacing the failure rather than resting an unbonded order.
				b.ledger.Unlock(b.escrowAsset(o.Side), o.Owner, leftoverEscrow)
				return fills, err
			}
			b.events.Emit(events.BondPosted, zap.String("order", o.ID), zap.String("bond", bond.String()))
		}
		o.bond = bond
		b.rest(o)
	} else {
		// IOC remainder, or GTC fully filled: nothing further rests, so
		// release any unconsumed escrow back to the owner.
		if leftoverEscrow.Sign() > 0 {
			if err := b.ledger.Unlock(b.escrowAsset(o.Side), o.Owner, leftoverEscrow); err != nil {
				return fills, err
			}
		}
	}

	b.events.Emit(events.OrderPlaced, zap.String("order", o.ID), zap.String("side", sideString(o.Side)))
	return fills, nil
}

func sideString(s Side) string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// matchBuy crosses taker against resting asks and returns both the fills
// and the actual quote notional consumed (sum of ask-price*qty across
// fills, not taker.Price*qty) so Place can unlock exactly what wasn't
// spent — any price improvement belongs to the taker, never the book.
func (b *Book) matchBuy(taker *Order, cfg fees.Config, nowMs int64) ([]Fill, *big.Int) {
	var fills []Fill
	consumed := big.NewInt(0)
	for taker.Remaining.Sign() > 0 {
		askP := b.bestAsk()
		if askP == nil || askP.Cmp(taker.Price) > 0 {
			break
		}
		level := b.asks[askP.String()]
		if len(level) == 0 {
			b.dropEmptyLevel(Sell, askP)
			continue
		}
		maker := level[0]
		match := minBig(taker.Remaining, maker.Remaining)
		fill := b.settle(taker, maker, askP, match, cfg, nowMs)
		fills = append(fills, fill)
		consumed.Add(consumed, new(big.Int).Mul(askP, match))
		taker.Remaining.Sub(taker.Remaining, match)
		maker.Remaining.Sub(maker.Remaining, match)
		if maker.Remaining.Sign() == 0 {
			b.popMaker(Sell, askP)
			b.releaseBond(maker)
		}
	}
	return fills, consumed
}

// matchSell crosses taker against resting bids and returns both the fills
// and the actual base quantity consumed — price-invariant for a seller's
// escrow, but tracked the same way as matchBuy for symmetry.
func (b *Book) matchSell(taker *Order, cfg fees.Config, nowMs int64) ([]Fill, *big.Int) {
	var fills []Fill
	consumed := big.NewInt(0)
	for taker.Remaining.Sign() > 0 {
		bidP := b.bestBid()
		if bidP == nil || bidP.Cmp(taker.Price) < 0 {
			break
		}
		level := b.bids[bidP.String()]
		if len(level) == 0 {
			b.dropEmptyLevel(Buy, bidP)
			continue
		}
		maker := level[0]
		match := minBig(taker.Remaining, maker.Remaining)
		fill := b.settle(maker, taker, bidP, match, cfg, nowMs)
		fills = append(fills, fill)
		consumed.Add(consumed, match)
		taker.Remaining.Sub(taker.Remaining, match)
		maker.Remaining.Sub(maker.Remaining, match)
		if maker.Remaining.Sign() == 0 {
			b.popMaker(Buy, bidP)
			b.releaseBond(maker)
		}
	}
	return fills, consumed
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) < 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// settle executes one match given the buyer and seller order (whichever is
// resting is the maker; the other is the taker calling Place). Both legs of
// the trade move through the ledger; the taker's receipt settles
// immediately while the maker's receipt is withheld into the claimable
// bucket, per spec.md §4.5.
func (b *Book) settle(buyer, seller *Order, price, qty *big.Int, cfg fees.Config, nowMs int64) Fill {
	quoteAmt := new(big.Int).Mul(price, qty)

	takerStake, makerStake := big.NewInt(0), big.NewInt(0)
	if b.staking != nil {
		takerStake = b.staking.ActiveStakeOf(b.takerOf(buyer, seller))
		makerStake = b.staking.ActiveStakeOf(b.makerOf(buyer, seller))
	}

	var taker, maker *Order
	if b.isResting(seller) {
		taker, maker = buyer, seller
	} else {
		taker, maker = seller, buyer
	}

	takerEffBps, _ := fees.ApplyDiscounts(cfg, taker.PayFeeInUnxv, takerStake)
	_, makerEffBps := fees.ApplyDiscounts(cfg, maker.PayFeeInUnxv, makerStake)

	takerFee := fixedmath.MulBps(quoteAmt, takerEffBps, fixedmath.RoundFloor)
	makerFee := fixedmath.MulBps(quoteAmt, makerEffBps, fixedmath.RoundFloor)

	// Notional legs: buyer pays quote from escrow, receives base;
	// seller pays base from escrow, receives quote.
	b.ledger.SeizeLocked(b.market.QuoteAsset, buyer.Owner, quoteAmt)
	b.ledger.SeizeLocked(b.market.BaseAsset, seller.Owner, qty)

	b.payout(buyer, b.market.BaseAsset, qty)
	b.payout(seller, b.market.QuoteAsset, quoteAmt)

	b.collectFee(taker, takerFee, cfg, nowMs)
	b.collectFee(maker, makerFee, cfg, nowMs)
	b.events.Emit(events.MakerRebatePaid, zap.String("order", maker.ID), zap.String("amount", "0"))

	b.lastPrice = new(big.Int).Set(price)
	b.events.Emit(events.OrderMatched,
		zap.String("taker", taker.ID), zap.String("maker", maker.ID),
		zap.String("price", price.String()), zap.String("qty", qty.String()))

	return Fill{
		TakerOrderID: taker.ID, MakerOrderID: maker.ID,
		TakerOwner: taker.Owner, MakerOwner: maker.Owner,
		Price: new(big.Int).Set(price), Qty: new(big.Int).Set(qty),
		TakerFee: takerFee, MakerFee: makerFee,
	}
}

func (b *Book) takerOf(buyer, seller *Order) common.Address {
	if b.isResting(seller) {
		return buyer.Owner
	}
	return seller.Owner
}

func (b *Book) makerOf(buyer, seller *Order) common.Address {
	if b.isResting(seller) {
		return seller.Owner
	}
	return buyer.Owner
}

// isResting reports whether o is currently indexed in the book (i.e. it was
// already resting before this Place call, making it the maker leg).
func (b *Book) isResting(o *Order) bool {
	_, ok := b.index[o.ID]
	return ok
}

// payout credits recipient immediately if it is the taker of this match, or
// withholds into the claimable bucket if it is the resting maker.
func (b *Book) payout(o *Order, asset ledger.Asset, amount *big.Int) {
	if b.isResting(o) {
		m, ok := b.claimable[o.Owner]
		if !ok {
			m = make(map[ledger.Asset]*big.Int)
			b.claimable[o.Owner] = m
		}
		cur, ok := m[asset]
		if !ok {
			cur = big.NewInt(0)
			m[asset] = cur
		}
		cur.Add(cur, amount)
		return
	}
	b.ledger.CreditFrom(asset, o.Owner, amount)
}

func (b *Book) collectFee(o *Order, fee *big.Int, cfg fees.Config, nowMs int64) {
	if fee.Sign() == 0 {
		return
	}
	if o.PayFeeInUnxv {
		if err := b.ledger.Lock(b.unxvAsset, o.Owner, fee); err != nil {
			return // insufficient UNXV headroom: fee opt-in silently forfeits this fill's discount path
		}
		if b.staking != nil {
			b.vault.AccrueUnxvAndSplit(cfg, b.staking, b.unxvAsset, o.Owner, fee, nowMs)
		}
		return
	}
	if err := b.ledger.DebitTo(b.market.QuoteAsset, o.Owner, fee); err != nil {
		return
	}
	b.vault.AccrueDirect(b.market.QuoteAsset, fee)
}

func (b *Book) releaseBond(o *Order) {
	if o.bond == nil || o.bond.Sign() == 0 {
		return
	}
	b.ledger.Unlock(b.market.QuoteAsset, o.Owner, o.bond)
	b.events.Emit(events.BondRefunded, zap.String("order", o.ID), zap.String("bond", o.bond.String()))
	o.bond = big.NewInt(0)
}

func (b *Book) rest(o *Order) {
	p := o.Price.String()
	if o.Side == Buy {
		if len(b.bids[p]) == 0 {
			heap.Push(&b.bidHeap, o.Price)
		}
		b.bids[p] = append(b.bids[p], o)
	} else {
		if len(b.asks[p]) == 0 {
			heap.Push(&b.askHeap, o.Price)
		}
		b.asks[p] = append(b.asks[p], o)
	}
	b.index[o.ID] = orderLoc{side: o.Side, price: o.Price}
}

func (b *Book) popMaker(side Side, price *big.Int) {
	key := price.String()
	levels := b.bids
	if side == Sell {
		levels = b.asks
	}
	arr := levels[key]
	if len(arr) == 0 {
		return
	}
	delete(b.index, arr[0].ID)
	arr = arr[1:]
	if len(arr) == 0 {
		delete(levels, key)
		b.dropEmptyLevel(side, price)
		return
	}
	levels[key] = arr
}

func (b *Book) dropEmptyLevel(side Side, price *big.Int) {
	if side == Buy {
		for i, p := range b.bidHeap {
			if p.Cmp(price) == 0 {
				heap.Remove(&b.bidHeap, i)
				return
			}
		}
	} else {
		for i, p := range b.askHeap {
			if p.Cmp(price) == 0 {
				heap.Remove(&b.askHeap, i)
				return
			}
		}
	}
}

// Cancel removes a resting order, refunding its escrow and bond in full.
func (b *Book) Cancel(caller common.Address, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	loc, ok := b.index[id]
	if !ok {
		return ErrUnknownOrder
	}
	levels := b.bids
	if loc.side == Sell {
		levels = b.asks
	}
	arr := levels[loc.price.String()]
	idx := -1
	for i, o := range arr {
		if o.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return ErrUnknownOrder
	}
	o := arr[idx]
	if o.Owner != caller {
		return ErrNotOwner
	}

	arr = append(arr[:idx], arr[idx+1:]...)
	if len(arr) == 0 {
		delete(levels, loc.price.String())
		b.dropEmptyLevel(loc.side, loc.price)
	} else {
		levels[loc.price.String()] = arr
	}
	delete(b.index, id)

	escrow := b.escrowAmount(o.Side, o.Price, o.Remaining)
	if escrow.Sign() > 0 {
		b.ledger.Unlock(b.escrowAsset(o.Side), o.Owner, escrow)
	}
	b.releaseBond(o)
	b.events.Emit(events.OrderCancelled, zap.String("order", id))
	return nil
}

// Modify shrinks a resting order's remaining size in place, preserving its
// queue position, per the modify_order Open Question resolution: growth is
// rejected outright rather than re-queued.
func (b *Book) Modify(caller common.Address, id string, newSize *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	loc, ok := b.index[id]
	if !ok {
		return ErrUnknownOrder
	}
	levels := b.bids
	if loc.side == Sell {
		levels = b.asks
	}
	arr := levels[loc.price.String()]
	for _, o := range arr {
		if o.ID != id {
			continue
		}
		if o.Owner != caller {
			return ErrNotOwner
		}
		if newSize.Cmp(o.Remaining) >= 0 {
			return ErrInsufficientRemaining
		}
		freed := new(big.Int).Sub(o.Remaining, newSize)
		escrowFreed := b.escrowAmount(o.Side, o.Price, freed)
		if err := b.ledger.Unlock(b.escrowAsset(o.Side), o.Owner, escrowFreed); err != nil {
			return err
		}
		if o.bond != nil && o.bond.Sign() > 0 && o.Remaining.Sign() > 0 {
			bondFreed := new(big.Int).Mul(o.bond, freed)
			bondFreed.Quo(bondFreed, o.Remaining)
			if bondFreed.Sign() > 0 {
				b.ledger.Unlock(b.market.QuoteAsset, o.Owner, bondFreed)
				o.bond.Sub(o.bond, bondFreed)
			}
		}
		o.Remaining = newSize
		return nil
	}
	return ErrUnknownOrder
}

// GCStep sweeps resting orders whose ExpiryMs has passed as of nowMs,
// refunding their notional escrow and bond in full — expiry is not abuse
// (spec.md §4.5 names cancel/expire/fill together as full-refund triggers;
// bond slashing is reserved for protocol-defined abuse such as a rate
// limit this core does not implement). Returns the number of orders swept.
func (b *Book) GCStep(nowMs int64, maxSweeps int) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	swept := 0
	for _, levels := range []map[string][]*Order{b.bids, b.asks} {
		for price, arr := range levels {
			kept := arr[:0]
			for _, o := range arr {
				if swept >= maxSweeps {
					kept = append(kept, o)
					continue
				}
				if o.ExpiryMs != 0 && nowMs >= o.ExpiryMs {
					b.sweepExpired(o)
					swept++
					continue
				}
				kept = append(kept, o)
			}
			if len(kept) == 0 {
				delete(levels, price)
			} else {
				levels[price] = kept
			}
		}
	}
	// Price levels left empty above may still have a stale heap entry;
	// rebuild the two heaps from what remains so Peek stays correct.
	b.rebuildHeaps()
	return swept
}

func (b *Book) sweepExpired(o *Order) {
	delete(b.index, o.ID)
	escrow := b.escrowAmount(o.Side, o.Price, o.Remaining)
	if escrow.Sign() > 0 {
		b.ledger.Unlock(b.escrowAsset(o.Side), o.Owner, escrow)
	}
	b.releaseBond(o)
	b.events.Emit(events.OrderExpiredSwept, zap.String("order", o.ID))
}

func (b *Book) rebuildHeaps() {
	b.bidHeap = b.bidHeap[:0]
	b.askHeap = b.askHeap[:0]
	for priceStr := range b.bids {
		p, _ := new(big.Int).SetString(priceStr, 10)
		b.bidHeap = append(b.bidHeap, p)
	}
	for priceStr := range b.asks {
		p, _ := new(big.Int).SetString(priceStr, 10)
		b.askHeap = append(b.askHeap, p)
	}
	heap.Init(&b.bidHeap)
	heap.Init(&b.askHeap)
}

// ClaimMakerFills sweeps owner's withheld maker proceeds into their
// available ledger balance.
func (b *Book) ClaimMakerFills(owner common.Address) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	m, ok := b.claimable[owner]
	if !ok {
		return nil
	}
	for asset, amt := range m {
		if amt.Sign() == 0 {
			continue
		}
		if err := b.ledger.CreditFrom(asset, owner, amt); err != nil {
			return err
		}
	}
	delete(b.claimable, owner)
	b.events.Emit(events.MakerClaimed, zap.String("owner", owner.Hex()))
	return nil
}

// BestBidAsk returns the current best bid and ask, or nil for a missing
// side.
func (b *Book) BestBidAsk() (bid, ask *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bestBid(), b.bestAsk()
}

// LastPrice returns the most recent fill price, or zero if none yet.
func (b *Book) LastPrice() *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.lastPrice)
}
