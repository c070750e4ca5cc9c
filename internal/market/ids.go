package market

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/assertmarket/internal/domain"
)

// MarketID derives the id of a market created in creation step seq:
// keccak256(uint256(seq) ‖ description).
func MarketID(seq uint64, description []byte) common.Hash {
	word := uint256.NewInt(seq).Bytes32()
	return crypto.Keccak256Hash(word[:], description)
}

// TokenAddress derives the handle of one outcome token of a market.
func TokenAddress(marketID common.Hash, side domain.Side) common.Address {
	return common.BytesToAddress(crypto.Keccak256(marketID[:], []byte{byte(side)})[12:])
}

func outcomeToken(marketID common.Hash, side domain.Side, outcome []byte, minter common.Address) domain.Token {
	return domain.Token{
		Address:  TokenAddress(marketID, side),
		MarketID: marketID,
		Name:     string(outcome) + " Token",
		Symbol:   "O" + strconv.Itoa(int(side)) + "T",
		Minter:   minter,
	}
}

// Claim composes the statement submitted to the oracle for an assertion.
func Claim(at time.Time, outcome, description []byte) []byte {
	return []byte(fmt.Sprintf(
		"As of assertion timestamp %d, the described prediction market outcome is: %s. The market description is: %s",
		at.Unix(), outcome, description,
	))
}
