package trade

// feeSplit computes the 50/50 maker/taker fee split on a trade of amount
// sats, per the fee model: total = fee_pct * amount, sellerFee + buyerFee =
// total with the remainder (if fee_pct*amount is odd) going to the seller's
// half so rounding never shorts the daemon.
func feeSplit(amountSats int64, feePct float64) (total, sellerFee, buyerFee int64) {
	total = int64(float64(amountSats)*feePct + 0.5)
	buyerFee = total / 2
	sellerFee = total - buyerFee
	return total, sellerFee, buyerFee
}

// devFee returns the slice of totalFee paid to the daemon operator rather
// than netted against either party; it comes out of the daemon's own share
// and never changes what the seller pays or the buyer receives.
func devFee(totalFee int64, devFeePct float64) int64 {
	return int64(float64(totalFee)*devFeePct + 0.5)
}

// routingFeeCap bounds the maximum routing fee PayInvoice may spend on a
// payout of amountSats, per the adapter policy: 10% for small payments,
// the configured max for larger ones.
func routingFeeCap(amountSats int64, maxRoutingFeePct float64) int64 {
	if amountSats <= 100 {
		return int64(float64(amountSats)*0.10 + 0.5)
	}
	if maxRoutingFeePct <= 0 {
		maxRoutingFeePct = 0.01
	}
	return int64(float64(amountSats)*maxRoutingFeePct + 0.5)
}
