package price

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestRateReportsOkFalseWhenUncached(t *testing.T) {
	q := New(nil)
	if _, ok := q.Rate("USD"); ok {
		t.Error("expected Rate() to report ok=false before any Refresh")
	}
}

func TestGetMarketQuoteUsesCachedRate(t *testing.T) {
	q := New(nil)
	q.mu.Lock()
	q.rates["USD"] = decimal.NewFromInt(50000) // 1 BTC = 50,000 USD
	q.mu.Unlock()

	sats, err := q.GetMarketQuote(nil, "USD", decimal.NewFromInt(50), decimal.Zero)
	if err != nil {
		t.Fatalf("GetMarketQuote() error = %v", err)
	}
	// 50 USD / 50000 USD-per-BTC * 1e8 sats/BTC = 100000 sats
	if sats != 100000 {
		t.Errorf("sats = %d, want 100000", sats)
	}
}

func TestGetMarketQuoteAppliesPremium(t *testing.T) {
	q := New(nil)
	q.mu.Lock()
	q.rates["USD"] = decimal.NewFromInt(50000)
	q.mu.Unlock()

	// A +10% premium means the buyer pays more fiat per sat, i.e. fewer sats
	// for the same fiat amount.
	sats, err := q.GetMarketQuote(nil, "USD", decimal.NewFromInt(50), decimal.NewFromInt(10))
	if err != nil {
		t.Fatalf("GetMarketQuote() error = %v", err)
	}
	if sats != 90000 {
		t.Errorf("sats with +10%% premium = %d, want 90000", sats)
	}
}

func TestGetMarketQuoteIsCaseInsensitiveOnFiatCode(t *testing.T) {
	q := New(nil)
	q.mu.Lock()
	q.rates["EUR"] = decimal.NewFromInt(40000)
	q.mu.Unlock()

	if _, ok := q.Rate("eur"); !ok {
		t.Error("expected Rate() to uppercase the fiat code before lookup")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.BaseURL == "" {
		t.Error("expected DefaultConfig() to set a base URL")
	}
	if cfg.RequestRetries <= 0 {
		t.Error("expected DefaultConfig() to set a positive retry count")
	}
}
