package domain

import "github.com/shopspring/decimal"

// Direction is the economic direction of a transaction relative to the token.
type Direction string

// Direction constants
const (
	DirectionBuy      Direction = "buy"
	DirectionSell     Direction = "sell"
	DirectionTransfer Direction = "transfer"
)

// Opposite returns the opposing trade direction. Transfers have no opposite.
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionBuy:
		return DirectionSell
	case DirectionSell:
		return DirectionBuy
	default:
		return d
	}
}

// IsTrade reports whether the direction is buy or sell.
func (d Direction) IsTrade() bool {
	return d == DirectionBuy || d == DirectionSell
}

// Transaction is a canonical, normalized transaction event.
// Created once by the normalizer and never mutated afterwards.
type Transaction struct {
	Signature     string          // unique transaction id
	WalletAddress string          // acting wallet
	TokenAddress  string          // traded token mint
	Direction     Direction       // buy | sell | transfer
	Amount        decimal.Decimal // token amount
	ValueQuote    decimal.Decimal // value in quote currency
	BlockTime     int64           // Unix timestamp in milliseconds
	Venue         string          // venue tag (dex, cex, ...)
}
