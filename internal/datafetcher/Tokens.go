package datafetcher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cosmos/cosmos-sdk/types/query"
	"github.com/elys-network/ilpredictor/internal/config"
	"github.com/elys-network/ilpredictor/internal/logger"

	assetprofiletypes "github.com/elys-network/elys/v6/x/assetprofile/types"
)

var tokenLogger = logger.GetForComponent("token_retriever")

var (
	ErrInvalidTokenData = errors.New("invalid token data")
	ErrNoTokenEntries   = errors.New("no token entries available from assetprofile module")
)

const ENTRY_PAGE_LIMIT = 500

// Token is the on-chain profile of a denom. IBCDenom is the denom the chain's modules use,
// which equals Denom for native assets.
type Token struct {
	Denom     string
	IBCDenom  string
	Symbol    string
	Precision int
}

// GetTokens fetches every asset profile entry and returns the tokens keyed by denom and IBC denom.
// Malformed entries are skipped, AMM share and Eden denoms are not price series.
func GetTokens(ctx context.Context, client assetprofiletypes.QueryClient) (map[string]Token, error) {
	entries, err := FetchAllTokens(ctx, client)
	if err != nil {
		return nil, err
	}

	tokens := make(map[string]Token, len(entries))
	for _, entry := range entries {
		if strings.HasPrefix(entry.BaseDenom, "amm/") || strings.HasPrefix(entry.BaseDenom, "stablestake/") {
			continue
		}
		if entry.BaseDenom == "uedenb" || entry.BaseDenom == "ueden" {
			continue
		}
		if err := validateTokenMetadata(entry); err != nil {
			tokenLogger.Warn().Err(err).Str("denom", entry.Denom).Msg("Skipping invalid token entry")
			continue
		}

		token := Token{
			Denom:     entry.BaseDenom,
			IBCDenom:  entry.Denom,
			Symbol:    strings.ToUpper(strings.TrimSpace(entry.DisplayName)),
			Precision: int(entry.Decimals),
		}
		tokens[token.Denom] = token
		if token.IBCDenom != "" && token.IBCDenom != token.Denom {
			tokens[token.IBCDenom] = token
		}
	}

	tokenLogger.Info().
		Int("entries", len(entries)).
		Int("tokens", len(tokens)).
		Msg("Token profiles retrieved")
	return tokens, nil
}

// FetchAllTokens pages through the assetprofile module's entries.
func FetchAllTokens(ctx context.Context, client assetprofiletypes.QueryClient) ([]assetprofiletypes.Entry, error) {
	if client == nil {
		return nil, errors.New("assetprofile client cannot be nil")
	}

	var allEntries []assetprofiletypes.Entry
	var nextKey []byte
	for {
		response, err := client.EntryAll(ctx, &assetprofiletypes.QueryAllEntryRequest{
			Pagination: &query.PageRequest{
				Key:   nextKey,
				Limit: ENTRY_PAGE_LIMIT,
			},
		})
		if err != nil {
			tokenLogger.Error().Err(err).Msg("Failed to fetch token entries from assetprofile module")
			return nil, fmt.Errorf("assetprofile query failed: %w", err)
		}
		if response == nil {
			return nil, errors.New("nil response from assetprofile module")
		}

		allEntries = append(allEntries, response.Entry...)

		if response.Pagination == nil || len(response.Pagination.NextKey) == 0 {
			break
		}
		nextKey = response.Pagination.NextKey
	}

	if len(allEntries) == 0 {
		return nil, ErrNoTokenEntries
	}
	return allEntries, nil
}

func validateTokenMetadata(token assetprofiletypes.Entry) error {
	if strings.TrimSpace(token.DisplayName) == "" {
		return fmt.Errorf("%w: display name cannot be empty for denom %s", ErrInvalidTokenData, token.Denom)
	}
	if strings.TrimSpace(token.BaseDenom) == "" {
		return fmt.Errorf("%w: base denom cannot be empty for %s", ErrInvalidTokenData, token.DisplayName)
	}
	if strings.TrimSpace(token.Denom) == "" {
		return fmt.Errorf("%w: denom cannot be empty for %s", ErrInvalidTokenData, token.DisplayName)
	}
	return nil
}

// SymbolResolver maps a denom to its CryptoCompare symbol. The static table wins, then the
// on-chain display name, then the micro-denom convention.
func SymbolResolver(tokens map[string]Token) func(denom string) string {
	return func(denom string) string {
		if symbol, ok := config.DenomToCCId[denom]; ok {
			return symbol
		}
		if token, ok := tokens[denom]; ok && token.Symbol != "" {
			return token.Symbol
		}
		return config.CryptoCompareSymbol(denom)
	}
}

// UnknownDenoms returns the tracked denoms the chain has no profile for.
func UnknownDenoms(tokens map[string]Token, denoms []string) []string {
	var unknown []string
	for _, denom := range denoms {
		if _, ok := tokens[denom]; !ok {
			unknown = append(unknown, denom)
		}
	}
	return unknown
}
