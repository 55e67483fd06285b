// Package price implements the daemon's fiat/BTC rate lookup: a
// trimmed-slash base URL, a bounded-timeout *http.Client, and a rate cache
// that Run refreshes in the background, so a quote reaches the network only
// when its fiat code has no cached rate yet.
package price

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mostro-exchange/mostrod/internal/mostroerr"
)

// ErrNoCurrency is returned when the upstream provider does not list a
// requested fiat code; the caller (the trade FSM) must then require the
// maker to post a fixed-rate order instead.
var ErrNoCurrency = fmt.Errorf("price: currency not listed by provider")

// Quoter fetches BTC/fiat conversion rates from an upstream pricing API.
type Quoter struct {
	baseURL    string
	httpClient *http.Client
	cfg        *Config

	mu       sync.RWMutex
	rates    map[string]decimal.Decimal // fiat code -> BTC price in that fiat
	lastFill time.Time
}

// Config selects the upstream pricing API and refresh cadence.
type Config struct {
	BaseURL        string
	RefreshPeriod  time.Duration
	RequestRetries int
	RetryBackoff   time.Duration
}

// DefaultConfig targets the Yadio public rate API with a 60s refresh and a
// 4-attempt/2s backoff retry policy.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:        "https://api.yadio.io",
		RefreshPeriod:  60 * time.Second,
		RequestRetries: 4,
		RetryBackoff:   2 * time.Second,
	}
}

// New builds a Quoter against cfg.
func New(cfg *Config) *Quoter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Quoter{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		rates:      make(map[string]decimal.Decimal),
		cfg:        cfg,
	}
}

// SupportsCurrency checks fiatCode against GET {base}/currencies.
func (q *Quoter) SupportsCurrency(ctx context.Context, fiatCode string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.baseURL+"/currencies", nil)
	if err != nil {
		return false, err
	}
	resp, err := q.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var currencies map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&currencies); err != nil {
		return false, fmt.Errorf("decode currencies: %w", err)
	}
	_, ok := currencies[strings.ToUpper(fiatCode)]
	return ok, nil
}

// Refresh fetches the current BTC price in fiatCode via
// GET {base}/convert/1/{code}/BTC, retrying up to RequestRetries times with
// RetryBackoff between attempts, and caches the result.
func (q *Quoter) Refresh(ctx context.Context, fiatCode string) (decimal.Decimal, error) {
	fiatCode = strings.ToUpper(fiatCode)

	var lastErr error
	for attempt := 0; attempt < q.retries(); attempt++ {
		rate, err := q.fetchRate(ctx, 1, fiatCode)
		if err == nil {
			// fetchRate yields the BTC amount of one fiat unit; its inverse
			// is the BTC price in fiat that GetMarketQuote divides by.
			rate = decimal.NewFromInt(1).Div(rate)
			q.mu.Lock()
			q.rates[fiatCode] = rate
			q.lastFill = time.Now()
			q.mu.Unlock()
			return rate, nil
		}
		lastErr = err
		if attempt == q.retries()-1 {
			break
		}
		select {
		case <-ctx.Done():
			return decimal.Zero, ctx.Err()
		case <-time.After(q.backoff()):
		}
	}
	return decimal.Zero, fmt.Errorf("price: quote %s after %d attempts: %w", fiatCode, q.retries(), lastErr)
}

func (q *Quoter) retries() int {
	if q.cfg != nil && q.cfg.RequestRetries > 0 {
		return q.cfg.RequestRetries
	}
	return 4
}

func (q *Quoter) backoff() time.Duration {
	if q.cfg != nil && q.cfg.RetryBackoff > 0 {
		return q.cfg.RetryBackoff
	}
	return 2 * time.Second
}

// fetchRate hits GET {base}/convert/{amount}/{code}/BTC, returning the BTC
// amount equal to amount units of code.
func (q *Quoter) fetchRate(ctx context.Context, amount int64, fiatCode string) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/convert/%d/%s/BTC", q.baseURL, amount, fiatCode)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, err
	}
	resp, err := q.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNoCurrency, fiatCode)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return decimal.Zero, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var out struct {
		Result decimal.Decimal `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return decimal.Zero, fmt.Errorf("decode rate: %w", err)
	}
	if out.Result.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: zero rate for %s", mostroerr.ErrInvalidAmount, fiatCode)
	}
	return out.Result, nil
}

// Rate returns the last cached BTC price in fiatCode without touching
// the network, or ok=false if no quote has been fetched yet.
func (q *Quoter) Rate(fiatCode string) (rate decimal.Decimal, ok bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	rate, ok = q.rates[strings.ToUpper(fiatCode)]
	return
}

// GetMarketQuote implements `sats = fiat_amount × (1/rate) × 10⁸ ×
// (1 − premium/100)` exactly as specified, refreshing the cached rate first
// if none is available yet. premiumPct is a signed percent in [-100, 100];
// the caller is responsible for range-checking it before calling.
func (q *Quoter) GetMarketQuote(ctx context.Context, fiatCode string, fiatAmount decimal.Decimal, premiumPct decimal.Decimal) (int64, error) {
	rate, ok := q.Rate(fiatCode)
	if !ok {
		var err error
		rate, err = q.Refresh(ctx, fiatCode)
		if err != nil {
			return 0, err
		}
	}

	one := decimal.NewFromInt(1)
	hundred := decimal.NewFromInt(100)
	satsFactor := decimal.NewFromInt(100_000_000)

	sats := fiatAmount.
		Mul(one.Div(rate)).
		Mul(satsFactor).
		Mul(one.Sub(premiumPct.Div(hundred)))
	return sats.Round(0).IntPart(), nil
}

// Run refreshes every supported fiat code on cfg.RefreshPeriod until ctx is
// canceled, so GetMarketQuote's cache stays warm without per-call network
// cost on the common path.
func (q *Quoter) Run(ctx context.Context, fiatCodes []string) {
	period := q.refreshPeriod()
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, code := range fiatCodes {
				_, _ = q.Refresh(ctx, code)
			}
		}
	}
}

func (q *Quoter) refreshPeriod() time.Duration {
	if q.cfg != nil && q.cfg.RefreshPeriod > 0 {
		return q.cfg.RefreshPeriod
	}
	return 60 * time.Second
}
