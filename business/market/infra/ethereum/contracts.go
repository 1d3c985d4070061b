package ethereum

// Minimal ABIs for reading pool price state. Only the view functions
// the quote reader calls are included.

// PairABI covers constant-product pairs (UniswapV2-compatible).
const PairABI = `[
	{
		"inputs": [],
		"name": "getReserves",
		"outputs": [
			{"internalType": "uint112", "name": "reserve0", "type": "uint112"},
			{"internalType": "uint112", "name": "reserve1", "type": "uint112"},
			{"internalType": "uint32", "name": "blockTimestampLast", "type": "uint32"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

// ConcentratedPoolABI covers concentrated-liquidity pools (UniswapV3-compatible).
const ConcentratedPoolABI = `[
	{
		"inputs": [],
		"name": "slot0",
		"outputs": [
			{"internalType": "uint160", "name": "sqrtPriceX96", "type": "uint160"},
			{"internalType": "int24", "name": "tick", "type": "int24"},
			{"internalType": "uint16", "name": "observationIndex", "type": "uint16"},
			{"internalType": "uint16", "name": "observationCardinality", "type": "uint16"},
			{"internalType": "uint16", "name": "observationCardinalityNext", "type": "uint16"},
			{"internalType": "uint8", "name": "feeProtocol", "type": "uint8"},
			{"internalType": "bool", "name": "unlocked", "type": "bool"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "liquidity",
		"outputs": [
			{"internalType": "uint128", "name": "", "type": "uint128"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

// BinPoolABI covers discretized-bin pools (Liquidity-Book-compatible).
const BinPoolABI = `[
	{
		"inputs": [],
		"name": "getActiveId",
		"outputs": [
			{"internalType": "uint24", "name": "activeId", "type": "uint24"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "uint24", "name": "id", "type": "uint24"}
		],
		"name": "getBin",
		"outputs": [
			{"internalType": "uint128", "name": "binReserveX", "type": "uint128"},
			{"internalType": "uint128", "name": "binReserveY", "type": "uint128"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

// binCenterID is the bin id whose price is exactly 1.
const binCenterID = 1 << 23
