package simulations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	cmtbytes "github.com/cometbft/cometbft/libs/bytes"
	rpchttp "github.com/cometbft/cometbft/rpc/client/http"
	ctypes "github.com/cometbft/cometbft/rpc/core/types"
	sdk "github.com/cosmos/cosmos-sdk/types"
	amm "github.com/elys-network/elys/v6/x/amm/types"
	"github.com/gogo/protobuf/proto"
	"github.com/rs/zerolog"

	"github.com/elys-network/ilpredictor/internal/logger"
)

const (
	rpcTimeout = 20 * time.Second

	SwapEstimationPath = "/elys.amm.Query/SwapEstimationByDenom"

	// Any well-formed address works, the estimation does not touch balances.
	simulationAddress = "elys1qyqszqgpqyqszqgpqyqszqgpqyqszqgpqyqszqgp"
)

var (
	ErrInvalidSwap      = errors.New("invalid swap request")
	ErrABCIQuery        = errors.New("ABCI query failed")
	ErrNoSlippage       = errors.New("swap estimation reported no slippage")
	ErrEmptyQueryResult = errors.New("empty ABCI query result")
)

// ABCIQuerier is the part of a CometBFT RPC client used for simulations.
type ABCIQuerier interface {
	ABCIQuery(ctx context.Context, path string, data cmtbytes.HexBytes) (*ctypes.ResultABCIQuery, error)
}

// SwapEstimationResult contains the result of a swap simulation
type SwapEstimationResult struct {
	TokenOut sdk.Coin
	Slippage sdkmath.LegacyDec
}

// SwapImpactEstimator asks the chain how a swap would execute, without broadcasting anything.
type SwapImpactEstimator struct {
	client ABCIQuerier
	logger zerolog.Logger
}

// NewSwapImpactEstimator connects to the CometBFT RPC endpoint of a node.
func NewSwapImpactEstimator(rpcEndpoint string) (*SwapImpactEstimator, error) {
	if strings.TrimSpace(rpcEndpoint) == "" {
		return nil, errors.New("RPC endpoint cannot be empty")
	}
	client, err := rpchttp.NewWithTimeout(rpcEndpoint, "/websocket", uint(rpcTimeout.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("failed to create RPC client: %w", err)
	}
	return NewSwapImpactEstimatorWithClient(client), nil
}

// NewSwapImpactEstimatorWithClient uses an existing querier.
func NewSwapImpactEstimatorWithClient(client ABCIQuerier) *SwapImpactEstimator {
	return &SwapImpactEstimator{
		client: client,
		logger: logger.GetForComponent("swap_simulator"),
	}
}

// SimulateSwap estimates swapping amountIn of denomIn into denomOut.
func (s *SwapImpactEstimator) SimulateSwap(ctx context.Context, amountIn sdkmath.Int, denomIn, denomOut string) (SwapEstimationResult, error) {
	if amountIn.IsNil() || !amountIn.IsPositive() {
		return SwapEstimationResult{}, fmt.Errorf("%w: amount must be positive", ErrInvalidSwap)
	}
	if strings.TrimSpace(denomIn) == "" || strings.TrimSpace(denomOut) == "" || denomIn == denomOut {
		return SwapEstimationResult{}, fmt.Errorf("%w: denoms %q -> %q", ErrInvalidSwap, denomIn, denomOut)
	}

	request := &amm.QuerySwapEstimationByDenomRequest{
		DenomIn:  denomIn,
		DenomOut: denomOut,
		Amount: sdk.Coin{
			Denom:  denomIn,
			Amount: amountIn,
		},
		Address: simulationAddress,
	}

	value, err := s.query(ctx, SwapEstimationPath, request)
	if err != nil {
		return SwapEstimationResult{}, err
	}

	var response amm.QuerySwapEstimationByDenomResponse
	if err := proto.Unmarshal(value, &response); err != nil {
		s.logger.Error().Err(err).Msg("Failed to unmarshal swap response")
		return SwapEstimationResult{}, fmt.Errorf("failed to unmarshal swap response: %w", err)
	}

	slippage, err := sdkmath.LegacyNewDecFromStr(response.Slippage.String())
	if err != nil {
		return SwapEstimationResult{}, fmt.Errorf("failed to parse slippage %q: %w", response.Slippage.String(), err)
	}

	s.logger.Debug().
		Str("tokenIn", amountIn.String()+denomIn).
		Str("tokenOut", response.Amount.String()).
		Str("slippage", slippage.String()).
		Msg("Swap simulation completed")

	return SwapEstimationResult{
		TokenOut: response.Amount,
		Slippage: slippage,
	}, nil
}

// EstimateLiquidityDepth infers the effective depth of the denomIn/denomOut market from the
// slippage of a simulated swap, in units of amountIn.
func (s *SwapImpactEstimator) EstimateLiquidityDepth(ctx context.Context, amountIn sdkmath.Int, denomIn, denomOut string) (sdkmath.LegacyDec, error) {
	result, err := s.SimulateSwap(ctx, amountIn, denomIn, denomOut)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	return LiquidityDepth(amountIn, result.Slippage)
}

// LiquidityDepth is amountIn / slippage: the trade size that would move the price by 100%
// under a linear impact model.
func LiquidityDepth(amountIn sdkmath.Int, slippage sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	if amountIn.IsNil() || !amountIn.IsPositive() {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: amount must be positive", ErrInvalidSwap)
	}
	if slippage.IsNil() || !slippage.IsPositive() {
		return sdkmath.LegacyDec{}, ErrNoSlippage
	}
	return sdkmath.LegacyNewDecFromInt(amountIn).Quo(slippage), nil
}

// query executes an ABCI query with a proto encoded request and returns the raw response value.
func (s *SwapImpactEstimator) query(ctx context.Context, abciPath string, request proto.Message) ([]byte, error) {
	data, err := proto.Marshal(request)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to marshal gRPC request")
		return nil, fmt.Errorf("failed to marshal gRPC request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	s.logger.Debug().Str("abciPath", abciPath).Msg("Executing ABCI query")

	result, err := s.client.ABCIQuery(ctx, abciPath, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrABCIQuery, abciPath, err)
	}
	if result == nil {
		return nil, fmt.Errorf("%w: %s: nil result", ErrABCIQuery, abciPath)
	}

	response := result.Response
	if response.Code != 0 {
		s.logger.Warn().
			Uint32("code", response.Code).
			Str("log", response.Log).
			Msg("ABCI query error")
		return nil, fmt.Errorf("%w: %s (code %d): %s", ErrABCIQuery, abciPath, response.Code, response.Log)
	}
	if len(response.Value) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyQueryResult, response.Log)
	}
	return response.Value, nil
}
