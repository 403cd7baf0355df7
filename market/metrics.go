package market

// Mid returns the simple midpoint of the top of book.
func Mid(b *L2Book) float64 {
	return (b.TopBid().Price + b.TopAsk().Price) / 2
}

// Microprice returns the size-weighted midpoint over the top `levels` levels.
// The bid-side average price is weighted by ask volume and vice versa, so
// heavier resting size on one side pulls the price toward the opposite quote
// (heavy bids lift it above mid). Falls back to the simple mid when either
// side has zero volume.
func Microprice(b *L2Book, levels int) float64 {
	if levels <= 0 {
		levels = 1
	}
	var vb, va, pb, pa float64
	for i := 0; i < levels && i < len(b.Bids); i++ {
		vb += b.Bids[i].Size
		pb += b.Bids[i].Price * b.Bids[i].Size
	}
	for i := 0; i < levels && i < len(b.Asks); i++ {
		va += b.Asks[i].Size
		pa += b.Asks[i].Price * b.Asks[i].Size
	}
	if vb == 0 || va == 0 {
		return Mid(b)
	}
	avgBid := pb / vb
	avgAsk := pa / va
	return (avgBid*va + avgAsk*vb) / (vb + va)
}

// Imbalance returns (BidVol - AskVol) / (BidVol + AskVol) over the top n
// levels; zero when both are empty.
func Imbalance(b *L2Book, n int) float64 {
	bidVol, askVol := Depth(b, n)
	total := bidVol + askVol
	if total == 0 {
		return 0
	}
	return (bidVol - askVol) / total
}

// Depth sums the top n sizes on each side.
func Depth(b *L2Book, n int) (bidDepth, askDepth float64) {
	for i := 0; i < n && i < len(b.Bids); i++ {
		bidDepth += b.Bids[i].Size
	}
	for i := 0; i < n && i < len(b.Asks); i++ {
		askDepth += b.Asks[i].Size
	}
	return bidDepth, askDepth
}

// WeightedMid returns the top-of-book size-weighted mid.
func WeightedMid(b *L2Book) float64 {
	bid, ask := b.TopBid(), b.TopAsk()
	total := bid.Size + ask.Size
	if total == 0 {
		return Mid(b)
	}
	return (bid.Price*ask.Size + ask.Price*bid.Size) / total
}

// ImpactPrice walks one side of the book and returns the notional-weighted
// average fill price of executing `notional` quote units against it, or 0 if
// the book cannot absorb the amount. Pass asks for a buy, bids for a sell.
func ImpactPrice(levels []PriceLevel, notional float64) float64 {
	if notional <= 0 {
		return 0
	}
	remaining := notional
	var filledQty, spent float64
	for _, lv := range levels {
		if lv.Size <= 0 {
			continue
		}
		levelNotional := lv.Price * lv.Size
		if remaining <= levelNotional {
			qty := remaining / lv.Price
			filledQty += qty
			spent += remaining
			remaining = 0
			break
		}
		filledQty += lv.Size
		spent += levelNotional
		remaining -= levelNotional
	}
	if remaining > 0 || filledQty == 0 {
		return 0
	}
	return spent / filledQty
}
