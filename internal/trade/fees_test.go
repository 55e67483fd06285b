package trade

import "testing"

func TestFeeSplitEven(t *testing.T) {
	total, sellerFee, buyerFee := feeSplit(10000, 0.02)
	if total != 200 {
		t.Errorf("total = %d, want 200", total)
	}
	if sellerFee != 100 || buyerFee != 100 {
		t.Errorf("sellerFee/buyerFee = %d/%d, want 100/100", sellerFee, buyerFee)
	}
	if sellerFee+buyerFee != total {
		t.Errorf("sellerFee+buyerFee = %d, want %d", sellerFee+buyerFee, total)
	}
}

func TestFeeSplitOddRemainderGoesToSeller(t *testing.T) {
	total, sellerFee, buyerFee := feeSplit(150, 0.02)
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}
	if sellerFee+buyerFee != total {
		t.Errorf("sellerFee+buyerFee = %d, want %d", sellerFee+buyerFee, total)
	}
	if sellerFee != 2 || buyerFee != 1 {
		t.Errorf("expected the odd remainder to go to the seller's half: sellerFee=%d buyerFee=%d", sellerFee, buyerFee)
	}
}

func TestDevFee(t *testing.T) {
	if got := devFee(1000, 0.2); got != 200 {
		t.Errorf("devFee(1000, 0.2) = %d, want 200", got)
	}
	if got := devFee(0, 0.2); got != 0 {
		t.Errorf("devFee(0, 0.2) = %d, want 0", got)
	}
}

func TestRoutingFeeCapSmallPayment(t *testing.T) {
	if got := routingFeeCap(100, 0.001); got != 10 {
		t.Errorf("routingFeeCap(100, ...) = %d, want 10", got)
	}
}

func TestRoutingFeeCapLargePayment(t *testing.T) {
	if got := routingFeeCap(100000, 0.001); got != 100 {
		t.Errorf("routingFeeCap(100000, 0.001) = %d, want 100", got)
	}
}

func TestRoutingFeeCapDefaultsWhenUnconfigured(t *testing.T) {
	got := routingFeeCap(100000, 0)
	want := int64(100000 * 0.01)
	if got != want {
		t.Errorf("routingFeeCap with no configured cap = %d, want %d", got, want)
	}
}
