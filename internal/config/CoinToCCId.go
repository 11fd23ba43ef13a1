/*
Crypto Compare is used for the hourly history that warms up a fresh estimator.

This file maps chain denoms to their Crypto Compare symbol. Denoms missing here fall back to
the micro-denom convention: a leading "u" is dropped and the rest is upper-cased ("uatom" -> "ATOM").

Keep it up to date for anything that does not follow that convention (wrapped assets, "a"-prefixed
18 decimal denoms, IBC hashes).
*/

package config

import "strings"

var (
	DenomToCCId = map[string]string{
		"uelys":        "ELYS",
		"uatom":        "ATOM",
		"uusdc":        "USDC",
		"uusdt":        "USDT",
		"uosmo":        "OSMO",
		"utia":         "TIA",
		"ustrd":        "STRD",
		"ukava":        "KAVA",
		"uakt":         "AKT",
		"ubld":         "BLD",
		"untrn":        "NTRN",
		"uom":          "OM",
		"usaga":        "SAGA",
		"uscrt":        "SCRT",
		"ustars":       "STARS",
		"uxion":        "XION",
		"ubbn":         "BABY",
		"afet":         "FET",
		"wbtc-satoshi": "WBTC",
		"weth-wei":     "ETH",
		"apaxg":        "PAXG",
	}
)

// CryptoCompareSymbol returns the Crypto Compare symbol for a denom.
func CryptoCompareSymbol(denom string) string {
	denom = strings.TrimSpace(denom)
	if symbol, ok := DenomToCCId[strings.ToLower(denom)]; ok {
		return symbol
	}
	if len(denom) > 1 && (denom[0] == 'u' || denom[0] == 'U') {
		return strings.ToUpper(denom[1:])
	}
	return strings.ToUpper(denom)
}
