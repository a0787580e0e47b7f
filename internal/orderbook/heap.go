package orderbook

import "math/big"

// maxPriceHeap tracks resting bid price levels, highest price on top.
// Adapted from the teacher's MaxPriceHeap (pkg/app/core/orderbook/heap.go),
// generalized from int64 ticks to *big.Int.
type maxPriceHeap []*big.Int

func (h maxPriceHeap) Len() int           { return len(h) }
func (h maxPriceHeap) Less(i, j int) bool { return h[i].Cmp(h[j]) > 0 }
func (h maxPriceHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *maxPriceHeap) Push(x any) { *h = append(*h, x.(*big.Int)) }

func (h *maxPriceHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func (h maxPriceHeap) Peek() *big.Int {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

// minPriceHeap tracks resting ask price levels, lowest price on top.
type minPriceHeap []*big.Int

func (h minPriceHeap) Len() int           { return len(h) }
func (h minPriceHeap) Less(i, j int) bool { return h[i].Cmp(h[j]) < 0 }
func (h minPriceHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *minPriceHeap) Push(x any) { *h = append(*h, x.(*big.Int)) }

func (h *minPriceHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func (h minPriceHeap) Peek() *big.Int {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}
