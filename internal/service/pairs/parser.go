// Package pairs parses and validates configured trading pair lists.
package pairs

import (
	"fmt"
	"strings"

	"CoinPull/internal/domain/models"
)

const minSymbolLen = 3

// CoinChecker reports whether a coin symbol is known. Optional.
type CoinChecker interface {
	Known(symbol string) bool
}

// Parser splits tokens like "DOGEUSD" into coin and currency using the
// longest supported currency suffix.
type Parser struct {
	currencies map[string]struct{}
	maxCurLen  int
	coins      CoinChecker
}

// Option configures Parser.
type Option func(*Parser)

// WithCurrencies replaces the supported currency set.
func WithCurrencies(codes []string) Option {
	return func(p *Parser) {
		if len(codes) == 0 {
			return
		}
		p.currencies = make(map[string]struct{}, len(codes))
		p.maxCurLen = 0
		for _, c := range codes {
			p.addCurrency(c)
		}
	}
}

// WithCoinChecker rejects coins the checker does not know.
func WithCoinChecker(c CoinChecker) Option {
	return func(p *Parser) { p.coins = c }
}

// NewParser creates a Parser with DefaultCurrencies.
func NewParser(opts ...Option) *Parser {
	p := &Parser{currencies: make(map[string]struct{}, len(DefaultCurrencies))}
	for _, c := range DefaultCurrencies {
		p.addCurrency(c)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Parser) addCurrency(code string) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) < minSymbolLen {
		return
	}
	p.currencies[code] = struct{}{}
	if len(code) > p.maxCurLen {
		p.maxCurLen = len(code)
	}
}

// SupportsCurrency reports whether code is in the supported set.
func (p *Parser) SupportsCurrency(code string) bool {
	_, ok := p.currencies[strings.ToUpper(code)]
	return ok
}

// Parse parses a comma-separated pair list. Invalid tokens are collected
// rather than aborting the batch.
func (p *Parser) Parse(raw string) models.ParseResult {
	res := models.ParseResult{}
	seen := make(map[string]struct{})

	for _, tok := range strings.Split(raw, ",") {
		norm := strings.ToUpper(strings.TrimSpace(tok))
		spec, inv := p.parseToken(norm)
		if inv != nil {
			res.Invalid = append(res.Invalid, *inv)
			continue
		}
		if _, dup := seen[spec.Key()]; dup {
			res.Invalid = append(res.Invalid, models.InvalidToken{
				Token:   norm,
				Reason:  models.ReasonDuplicate,
				Message: fmt.Sprintf("pair %s is listed more than once", spec.Key()),
			})
			continue
		}
		seen[spec.Key()] = struct{}{}
		res.Valid = append(res.Valid, spec)
	}
	return res
}

func (p *Parser) parseToken(tok string) (models.PairSpec, *models.InvalidToken) {
	invalid := func(reason models.InvalidReason, format string, a ...any) (models.PairSpec, *models.InvalidToken) {
		return models.PairSpec{}, &models.InvalidToken{Token: tok, Reason: reason, Message: fmt.Sprintf(format, a...)}
	}

	if tok == "" {
		return invalid(models.ReasonEmpty, "empty token")
	}
	if !isLetters(tok) {
		return invalid(models.ReasonMalformed, "token must contain letters only")
	}
	if len(tok) < 2*minSymbolLen {
		return invalid(models.ReasonMalformed, "token must be at least %d letters", 2*minSymbolLen)
	}

	suffixMatched := false
	for n := min(p.maxCurLen, len(tok)); n >= minSymbolLen; n-- {
		cur := tok[len(tok)-n:]
		if _, ok := p.currencies[cur]; !ok {
			continue
		}
		suffixMatched = true
		coin := tok[:len(tok)-n]
		if len(coin) < minSymbolLen {
			continue
		}
		if p.coins != nil && !p.coins.Known(coin) {
			return invalid(models.ReasonUnknownCoin, "unknown coin symbol %s", coin)
		}
		return models.PairSpec{Coin: coin, Currency: cur}, nil
	}

	if suffixMatched {
		return invalid(models.ReasonMalformed, "coin symbol must be at least %d letters", minSymbolLen)
	}
	return invalid(models.ReasonUnknownCurrency, "no supported currency code at the end of %s", tok)
}

func isLetters(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}
