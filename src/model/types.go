package model

import (
	"fmt"
	"strings"
)

// Venue is the exchange (or simulator) an order is routed to.
type Venue string

const (
	VenuePhemex  Venue = "phemex"
	VenueKraken  Venue = "kraken"
	VenueKucoin  Venue = "kucoin"
	VenueHydra   Venue = "hydra"
	VenueBinance Venue = "binance"
	VenuePaper   Venue = "paper"
)

var knownVenues = []Venue{VenuePhemex, VenueKraken, VenueKucoin, VenueHydra, VenueBinance, VenuePaper}

// ParseVenue normalizes a venue name and rejects anything outside the supported set.
func ParseVenue(s string) (Venue, error) {
	v := Venue(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range knownVenues {
		if v == known {
			return v, nil
		}
	}
	return "", fmt.Errorf("unsupported venue %q", s)
}

// Symbol is a trading pair in exchange notation, e.g. BTCUSDT.
type Symbol string

const (
	SymbolBTCUSDT Symbol = "BTCUSDT"
	SymbolETHUSDT Symbol = "ETHUSDT"
	SymbolSOLUSDT Symbol = "SOLUSDT"
)

// NormalizeSymbol upper-cases and strips separators ("btc/usdt" -> "BTCUSDT").
func NormalizeSymbol(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.NewReplacer("/", "", "-", "", "_", "").Replace(s)
	return Symbol(s)
}

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

func (t OrderType) Valid() bool {
	return t == OrderTypeMarket || t == OrderTypeLimit
}

// EntityType is the scope a circuit breaker applies to.
type EntityType string

const (
	EntityBot  EntityType = "bot"
	EntityUser EntityType = "user"
)

func ParseEntityType(s string) (EntityType, error) {
	switch EntityType(strings.ToLower(s)) {
	case EntityBot:
		return EntityBot, nil
	case EntityUser:
		return EntityUser, nil
	}
	return "", fmt.Errorf("unsupported entity type %q", s)
}

// Owner scopes ledger queries. A nil BotID means every bot of the user.
type Owner struct {
	UserID uint
	BotID  *uint
}

func UserOwner(userID uint) Owner {
	return Owner{UserID: userID}
}

func BotOwner(userID, botID uint) Owner {
	return Owner{UserID: userID, BotID: &botID}
}

func (o Owner) String() string {
	if o.BotID == nil {
		return fmt.Sprintf("user:%d", o.UserID)
	}
	return fmt.Sprintf("user:%d/bot:%d", o.UserID, *o.BotID)
}

// Fields returns the owner as log fields.
func (o Owner) Fields() map[string]interface{} {
	fields := map[string]interface{}{"user_id": o.UserID}
	if o.BotID != nil {
		fields["bot_id"] = *o.BotID
	}
	return fields
}

// JSONMap is a free-form metadata column stored as JSON.
type JSONMap map[string]interface{}
