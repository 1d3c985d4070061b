package asset

import "github.com/ethereum/go-ethereum/common"

// Well-known token addresses on Ethereum Mainnet
var (
	AddrWETH = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	AddrUSDC = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	AddrUSDT = common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7")
	AddrDAI  = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	AddrWBTC = common.HexToAddress("0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599")
)

// Well-known tokens (pre-created instances)
var (
	WETH = NewTokenWithName(AddrWETH, "WETH", "Wrapped Ether", 18)
	USDC = NewTokenWithName(AddrUSDC, "USDC", "USD Coin", 6)
	USDT = NewTokenWithName(AddrUSDT, "USDT", "Tether USD", 6)
	DAI  = NewTokenWithName(AddrDAI, "DAI", "Dai Stablecoin", 18)
	WBTC = NewTokenWithName(AddrWBTC, "WBTC", "Wrapped Bitcoin", 8)
)
