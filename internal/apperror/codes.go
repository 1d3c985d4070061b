package apperror

// Code represents a unique error code for the application
type Code string

// General error codes
const (
	CodeRequiredField   Code = "REQUIRED_FIELD"
	CodeInvalidInput    Code = "INVALID_INPUT"
	CodeInvalidState    Code = "INVALID_STATE"
	CodeNotFound        Code = "NOT_FOUND"
	CodeValidationError Code = "VALIDATION_ERROR"

	// Configuration
	CodeConfigurationError Code = "CONFIGURATION_ERROR"

	// External service errors
	CodeExternalServiceError Code = "EXTERNAL_SERVICE_ERROR"
	CodeServiceTimeout       Code = "SERVICE_TIMEOUT"
	CodeRateLimitExceeded    Code = "RATE_LIMIT_EXCEEDED"

	// System errors
	CodeInternalError Code = "INTERNAL_ERROR"
	CodeUnknownError  Code = "UNKNOWN_ERROR"
)

// Chain access error codes
const (
	CodeChainConnectionFailed Code = "CHAIN_CONNECTION_FAILED"
	CodeChainRPCError         Code = "CHAIN_RPC_ERROR"
	CodeContractCallFailed    Code = "CONTRACT_CALL_FAILED"
	CodeQuoteFetchFailed      Code = "QUOTE_FETCH_FAILED"
	CodeInvalidQuote          Code = "INVALID_QUOTE"
)

// Detection and validation error codes
const (
	CodeCycleNotFound         Code = "CYCLE_NOT_FOUND"
	CodeCycleRejected         Code = "CYCLE_REJECTED"
	CodeImplausibleReturn     Code = "IMPLAUSIBLE_RETURN"
	CodeInsufficientLiquidity Code = "INSUFFICIENT_LIQUIDITY"
	CodeInvalidTradeSize      Code = "INVALID_TRADE_SIZE"
)

// Execution error codes
const (
	CodeExecutionInFlight     Code = "EXECUTION_IN_FLIGHT"
	CodeGasEstimationFailed   Code = "GAS_ESTIMATION_FAILED"
	CodeSimulationReverted    Code = "SIMULATION_REVERTED"
	CodeSubmissionFailed      Code = "SUBMISSION_FAILED"
	CodeConfirmationTimeout   Code = "CONFIRMATION_TIMEOUT"
	CodeSlippageGuardTripped  Code = "SLIPPAGE_GUARD_TRIPPED"
	CodeGasExhausted          Code = "GAS_EXHAUSTED"
	CodeTransactionReverted   Code = "TRANSACTION_REVERTED"
	CodeSequenceOutOfSync     Code = "SEQUENCE_OUT_OF_SYNC"
	CodeSequenceNotInitialized Code = "SEQUENCE_NOT_INITIALIZED"
)

// Circuit breaker error codes
const (
	CodeCircuitOpen Code = "CIRCUIT_OPEN"
)
