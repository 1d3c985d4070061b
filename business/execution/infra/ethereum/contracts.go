package ethereum

// SettlementABI is the interface of the settlement contract. One call
// performs every hop of a cycle; the contract reverts the whole route
// when the final output lands under minReturn.
const SettlementABI = `[
	{
		"inputs": [
			{
				"components": [
					{"internalType": "address", "name": "pool", "type": "address"},
					{"internalType": "uint8", "name": "venue", "type": "uint8"},
					{"internalType": "address", "name": "tokenIn", "type": "address"},
					{"internalType": "address", "name": "tokenOut", "type": "address"},
					{"internalType": "uint24", "name": "fee", "type": "uint24"},
					{"internalType": "uint16", "name": "binStep", "type": "uint16"}
				],
				"internalType": "struct Settlement.Step[]",
				"name": "steps",
				"type": "tuple[]"
			},
			{"internalType": "uint256", "name": "amountIn", "type": "uint256"},
			{"internalType": "uint256", "name": "minReturn", "type": "uint256"}
		],
		"name": "executeCycle",
		"outputs": [
			{"internalType": "uint256", "name": "amountOut", "type": "uint256"}
		],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

// ERC20ABI carries only balanceOf, for the profit check.
const ERC20ABI = `[
	{
		"inputs": [
			{"internalType": "address", "name": "account", "type": "address"}
		],
		"name": "balanceOf",
		"outputs": [
			{"internalType": "uint256", "name": "", "type": "uint256"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

// Venue codes the settlement contract dispatches on.
const (
	venueCodeConstantProduct       uint8 = 0
	venueCodeConcentratedLiquidity uint8 = 1
	venueCodeBinLiquidity          uint8 = 2
)
