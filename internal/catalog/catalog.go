// Package catalog declares the tracked instruments, the ordered sources for
// each of them and the daily jobs that refresh them.
package catalog

import (
	"context"
	"regexp"

	"github.com/shopspring/decimal"

	"github.com/ahmethakanbesel/quotekeeper/internal/config"
	"github.com/ahmethakanbesel/quotekeeper/internal/extract"
	"github.com/ahmethakanbesel/quotekeeper/internal/fetch"
	"github.com/ahmethakanbesel/quotekeeper/internal/job"
	"github.com/ahmethakanbesel/quotekeeper/internal/quote"
	"github.com/ahmethakanbesel/quotekeeper/internal/scraper"
	"github.com/ahmethakanbesel/quotekeeper/internal/scraper/computed"
	"github.com/ahmethakanbesel/quotekeeper/internal/scraper/jsonapi"
	"github.com/ahmethakanbesel/quotekeeper/internal/scraper/page"
	"github.com/ahmethakanbesel/quotekeeper/internal/scraper/yahoo"
)

const (
	Gold       = "GOLD_24K_10G"
	Sensex     = "SENSEX"
	Nifty50    = "NIFTY50"
	USDINR     = "USDINR"
	BitcoinINR = "BTC_INR"
	GoldFuture = "GOLD_FUT_MCX"
)

var (
	goldRange    = extract.NewRange(40000, 400000)
	sensexRange  = extract.NewRange(20000, 200000)
	niftyRange   = extract.NewRange(8000, 60000)
	usdinrRange  = extract.NewRange(50, 150)
	bitcoinRange = extract.NewRange(500000, 50000000)
)

func Instruments() []quote.Instrument {
	return []quote.Instrument{
		{Key: Gold, Name: "Gold 24K (10 g)", Family: quote.FamilyGold, Unit: "INR", Range: goldRange},
		{Key: Sensex, Name: "BSE Sensex", Family: quote.FamilyMarket, Unit: "pts", Range: sensexRange},
		{Key: Nifty50, Name: "NIFTY 50", Family: quote.FamilyMarket, Unit: "pts", Range: niftyRange},
		{Key: USDINR, Name: "US Dollar / Indian Rupee", Family: quote.FamilyMarket, Unit: "INR", Range: usdinrRange},
		{Key: BitcoinINR, Name: "Bitcoin", Family: quote.FamilyCrypto, Unit: "INR", Range: bitcoinRange},
		{Key: GoldFuture, Name: "MCX Gold futures (10 g)", Family: quote.FamilyFutures, Unit: "INR", Range: goldRange},
	}
}

// GoldCascade reads the 24 karat price from retail gold rate pages. Pages
// list per gram and per 10 g prices; per gram is preferred because the
// 10 g figure is often the 22 karat one.
func GoldCascade() extract.Cascade {
	return extract.Cascade{
		Rules: []extract.Rule{
			{
				Name:     "24k_per_gram",
				Priority: 1,
				Pattern:  regexp.MustCompile(`(?i)24\s*(?:karat|carat|kt|k)\s+gold.{0,40}?(?:₹|rs\.?|inr)\s*([\d,]+(?:\.\d+)?)\s*(?:/|per)\s*(?:1\s*)?(?:gram|gm|g)\b`),
				Range:    goldRange,
				Scale:    decimal.NewFromInt(10),
			},
			{
				Name:     "24k_per_10g",
				Priority: 2,
				Pattern:  regexp.MustCompile(`(?i)24\s*(?:karat|carat|kt|k).{0,60}?(?:₹|rs\.?|inr)\s*([\d,]+(?:\.\d+)?)\s*(?:/|per)\s*10\s*(?:gram|gm|g)\b`),
				Range:    goldRange,
			},
			{
				Name:     "table_10g",
				Priority: 3,
				Pattern:  regexp.MustCompile(`(?i)10\s*(?:gram|gm|g)\b\D{0,30}?(?:₹|rs\.?|inr)\s*([\d,]+(?:\.\d+)?)`),
				Range:    goldRange,
			},
		},
		Fallback: &extract.KeywordScan{
			Keywords: []string{"24 karat", "24k", "gold", "10g", "10 gram"},
			Window:   60,
			Range:    goldRange,
		},
	}
}

func futuresCascade() extract.Cascade {
	return extract.Cascade{
		Rules: []extract.Rule{{
			Name:     "mcx_gold",
			Priority: 1,
			Pattern:  regexp.MustCompile(`(?i)gold.{0,80}?(?:₹|rs\.?|inr)?\s*([\d,]{5,}(?:\.\d+)?)`),
			Range:    goldRange,
		}},
	}
}

func indexCascade(rng extract.Range) extract.Cascade {
	return extract.Cascade{
		Rules: []extract.Rule{{
			Name:     "first_number",
			Priority: 1,
			Pattern:  regexp.MustCompile(`[-+]?[\d,]+(?:\.\d+)?`),
			Range:    rng,
		}},
	}
}

// Deps are the collaborators the source chains need.
type Deps struct {
	Fetcher fetch.Fetcher
	Yahoo   *yahoo.Client
	// Spot feeds the computed futures estimate.
	Spot           computed.SpotReader
	FuturesPremium decimal.Decimal
	Match          extract.MatchConfig
	// Overrides replace page cascades by source name.
	Overrides map[string]extract.Cascade
	Observer  scraper.Observer
}

// Register builds the source chain of every instrument into reg.
func Register(reg *scraper.Registry, d Deps) {
	pg := func(src page.Source) scraper.Strategy {
		if src.MatchChange {
			src.Match = d.Match
		}
		s := page.New(d.Fetcher, src)
		if c, ok := d.Overrides[src.Name]; ok {
			return s.WithCascade(c)
		}
		return s
	}
	google := func(name, url string, rng extract.Range) scraper.Strategy {
		return pg(page.Source{
			Name:        name,
			URL:         url,
			Selector:    "div.YMlKec.fxKbKc",
			Cascade:     indexCascade(rng),
			MatchChange: true,
		})
	}

	chains := []*scraper.Chain{
		scraper.NewChain(Gold, goldRange,
			pg(page.Source{Name: "goodreturns", URL: "https://www.goodreturns.in/gold-rates/", Cascade: GoldCascade()}),
			pg(page.Source{Name: "bankbazaar", URL: "https://www.bankbazaar.com/gold-rate-india.html", Cascade: GoldCascade()}),
		),
		scraper.NewChain(Sensex, sensexRange,
			d.Yahoo.Strategy("^BSESN"),
			google("google_sensex", "https://www.google.com/finance/quote/SENSEX:INDEXBOM", sensexRange),
			pg(page.Source{
				Name:        "moneycontrol_sensex",
				URL:         "https://www.moneycontrol.com/indian-indices/sensex-4.html",
				Selector:    "#sp_val, .inprice1 span",
				Cascade:     indexCascade(sensexRange),
				MatchChange: true,
			}),
		),
		scraper.NewChain(Nifty50, niftyRange,
			d.Yahoo.Strategy("^NSEI"),
			google("google_nifty", "https://www.google.com/finance/quote/NIFTY_50:INDEXNSE", niftyRange),
		),
		scraper.NewChain(USDINR, usdinrRange,
			d.Yahoo.Strategy("INR=X"),
			google("google_usdinr", "https://www.google.com/finance/quote/USD-INR", usdinrRange),
		),
		scraper.NewChain(BitcoinINR, bitcoinRange,
			jsonapi.New(d.Fetcher, jsonapi.Source{
				Name:        "coingecko",
				URL:         "https://api.coingecko.com/api/v3/simple/price?ids=bitcoin&vs_currencies=inr&include_24hr_change=true&include_last_updated_at=true",
				ValuePath:   "bitcoin.inr",
				PercentPath: "bitcoin.inr_24h_change",
				TimePath:    "bitcoin.last_updated_at",
			}),
			d.Yahoo.Strategy("BTC-INR"),
		),
		scraper.NewChain(GoldFuture, goldRange,
			pg(page.Source{
				Name:     "moneycontrol_mcx_gold",
				URL:      "https://www.moneycontrol.com/commodity/mcx-gold-price.html",
				Selector: "#comm_price, .commodity_price",
				Cascade:  futuresCascade(),
			}),
			computed.New(d.Spot, Gold, d.FuturesPremium),
		),
	}
	for _, c := range chains {
		if d.Observer != nil {
			c.WithObserver(d.Observer)
		}
		reg.Register(c)
	}
}

// Refresher resolves and stores a set of entities.
type Refresher interface {
	Refresh(ctx context.Context, keys ...string) (map[string]string, error)
}

// Jobs returns the daily job table.
func Jobs(cfg config.SchedulerConfig, r Refresher) []job.Definition {
	def := func(name, cron string, family quote.Family, keys ...string) job.Definition {
		return job.Definition{
			Name:    name,
			Cron:    cron,
			Target:  string(family),
			Timeout: cfg.JobTimeout,
			Task: func(ctx context.Context) (map[string]string, error) {
				return r.Refresh(ctx, keys...)
			},
		}
	}
	return []job.Definition{
		def("price", cfg.PriceCron, quote.FamilyGold, Gold),
		def("markets", cfg.MarketsCron, quote.FamilyMarket, Sensex, Nifty50, USDINR),
		def("bitcoin", cfg.BitcoinCron, quote.FamilyCrypto, BitcoinINR),
		def("futures", cfg.FuturesCron, quote.FamilyFutures, GoldFuture),
	}
}
