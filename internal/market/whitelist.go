package market

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/assertmarket/internal/domain"
)

// Whitelist is a fixed set of acceptable settlement currencies.
type Whitelist map[common.Address]struct{}

// NewWhitelist parses hex addresses into a Whitelist.
func NewWhitelist(addrs ...string) (Whitelist, error) {
	w := make(Whitelist, len(addrs))
	for _, a := range addrs {
		a = strings.TrimSpace(a)
		if !common.IsHexAddress(a) {
			return nil, fmt.Errorf("market: whitelist entry %q: %w", a, domain.ErrInputInvalid)
		}
		w[common.HexToAddress(a)] = struct{}{}
	}
	return w, nil
}

// IsOnWhitelist implements domain.CurrencyWhitelist.
func (w Whitelist) IsOnWhitelist(currency common.Address) bool {
	_, ok := w[currency]
	return ok
}
