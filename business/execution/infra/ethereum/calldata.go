package ethereum

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/lbayas/cyclearb/business/execution/domain"
	marketdomain "github.com/lbayas/cyclearb/business/market/domain"
)

// settlementStep mirrors the Step tuple in the settlement ABI. Field
// order and types must match the ABI exactly for abi.Pack to accept it.
type settlementStep struct {
	Pool     common.Address
	Venue    uint8
	TokenIn  common.Address
	TokenOut common.Address
	Fee      *big.Int
	BinStep  uint16
}

func venueCode(kind marketdomain.VenueKind) (uint8, error) {
	switch kind {
	case marketdomain.VenueConstantProduct:
		return venueCodeConstantProduct, nil
	case marketdomain.VenueConcentratedLiquidity:
		return venueCodeConcentratedLiquidity, nil
	case marketdomain.VenueBinLiquidity:
		return venueCodeBinLiquidity, nil
	}
	return 0, fmt.Errorf("no settlement venue code for %q", kind)
}

// buildCalldata packs an intent into one executeCycle call.
func buildCalldata(settlementABI abi.ABI, intent *domain.ExecutionIntent) ([]byte, error) {
	steps := make([]settlementStep, len(intent.Steps))
	for i, s := range intent.Steps {
		code, err := venueCode(s.Venue)
		if err != nil {
			return nil, err
		}
		steps[i] = settlementStep{
			Pool:     s.Pool,
			Venue:    code,
			TokenIn:  s.TokenIn.Address(),
			TokenOut: s.TokenOut.Address(),
			Fee:      big.NewInt(int64(s.FeeBps)),
			BinStep:  s.BinStep,
		}
	}

	return settlementABI.Pack("executeCycle", steps, intent.AmountInRaw(), intent.MinReturnRaw())
}
