package apperror

// messages maps error codes to human-readable messages
var messages = map[Code]string{
	// General validation
	CodeRequiredField:   "Required field is missing",
	CodeInvalidInput:    "Invalid input provided",
	CodeInvalidState:    "Invalid state for this operation",
	CodeNotFound:        "Resource not found",
	CodeValidationError: "Validation error",

	// Configuration
	CodeConfigurationError: "Configuration error",

	// External service errors
	CodeExternalServiceError: "External service error",
	CodeServiceTimeout:       "Service request timeout",
	CodeRateLimitExceeded:    "Rate limit exceeded",

	// System errors
	CodeInternalError: "Internal error",
	CodeUnknownError:  "An unknown error occurred",

	// Chain access
	CodeChainConnectionFailed: "Failed to connect to chain node",
	CodeChainRPCError:         "Chain RPC call failed",
	CodeContractCallFailed:    "Smart contract call failed",
	CodeQuoteFetchFailed:      "Failed to fetch pool quote",
	CodeInvalidQuote:          "Invalid pool quote data",

	// Detection and validation
	CodeCycleNotFound:         "Arbitrage cycle not found",
	CodeCycleRejected:         "Arbitrage cycle rejected",
	CodeImplausibleReturn:     "Cycle return exceeds plausibility ceiling",
	CodeInsufficientLiquidity: "Insufficient liquidity for trade size",
	CodeInvalidTradeSize:      "Invalid trade size",

	// Execution
	CodeExecutionInFlight:      "An execution is already in flight",
	CodeGasEstimationFailed:    "Gas estimation failed",
	CodeSimulationReverted:     "Transaction simulation reverted",
	CodeSubmissionFailed:       "Transaction submission failed",
	CodeConfirmationTimeout:    "Transaction confirmation timed out",
	CodeSlippageGuardTripped:   "On-chain minimum output guard tripped",
	CodeGasExhausted:           "Transaction ran out of gas",
	CodeTransactionReverted:    "Transaction reverted on chain",
	CodeSequenceOutOfSync:      "Sequence counter requires resync",
	CodeSequenceNotInitialized: "Sequence counter not initialized",

	// Circuit breaker
	CodeCircuitOpen: "Circuit breaker is open",
}
