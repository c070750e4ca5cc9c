// Package amm implements the constant-product pricing used to buy one side of
// an unresolved binary market. All arithmetic is checked 256-bit integer math
// with floor division.
package amm

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/assertmarket/internal/domain"
)

// The flat trading fee is FeeNumerator/FeeDenominator (0.3%) of the raw
// output.
const (
	FeeNumerator   = 3
	FeeDenominator = 1000
)

var (
	feeNumerator   = uint256.NewInt(FeeNumerator)
	feeDenominator = uint256.NewInt(FeeDenominator)
)

// Quote is the result of pricing a buy.
type Quote struct {
	// Raw is currencyIn * pool / (otherPool + currencyIn).
	Raw *uint256.Int
	// Fee is Raw * 3 / 1000.
	Fee *uint256.Int
	// Out is Raw - Fee, the amount of outcome tokens the buyer receives.
	Out *uint256.Int
}

// BuyQuote prices spending currencyIn on the side whose pool is pool, against
// the opposite pool otherPool. It fails with domain.ErrInsufficientOutput when
// the trade would return no tokens.
func BuyQuote(currencyIn, pool, otherPool *uint256.Int) (Quote, error) {
	numerator, overflow := new(uint256.Int).MulOverflow(currencyIn, pool)
	if overflow {
		return Quote{}, fmt.Errorf("amm: currency in %s times pool %s: %w", currencyIn.Dec(), pool.Dec(), domain.ErrOverflow)
	}
	denominator, overflow := new(uint256.Int).AddOverflow(otherPool, currencyIn)
	if overflow {
		return Quote{}, fmt.Errorf("amm: other pool %s plus currency in %s: %w", otherPool.Dec(), currencyIn.Dec(), domain.ErrOverflow)
	}
	if denominator.IsZero() {
		return Quote{}, fmt.Errorf("amm: empty pool and zero input: %w", domain.ErrInsufficientOutput)
	}

	raw := new(uint256.Int).Div(numerator, denominator)
	fee, err := Fee(raw)
	if err != nil {
		return Quote{}, err
	}
	out := new(uint256.Int).Sub(raw, fee)
	if out.IsZero() {
		return Quote{}, fmt.Errorf("amm: trade of %s returns no tokens: %w", currencyIn.Dec(), domain.ErrInsufficientOutput)
	}

	return Quote{Raw: raw, Fee: fee, Out: out}, nil
}

// Fee returns amount * 3 / 1000 rounded down.
func Fee(amount *uint256.Int) (*uint256.Int, error) {
	scaled, overflow := new(uint256.Int).MulOverflow(amount, feeNumerator)
	if overflow {
		return nil, fmt.Errorf("amm: fee on %s: %w", amount.Dec(), domain.ErrOverflow)
	}
	return scaled.Div(scaled, feeDenominator), nil
}
