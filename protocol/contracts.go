package protocol

// Contract names as they appear in the compiled artifacts.
const (
	TokenContract   = "LendingToken"
	LendingContract = "LendingContract"
)

// Token contract entry points.
const (
	MethodMint              = "mint"
	MethodTransferOwnership = "transferOwnership"
)

// Lending contract entry points.
const (
	MethodSetToken           = "setToken"
	MethodBorrowTokens       = "borrowTokens"
	MethodReturnTokens       = "returnTokens"
	MethodWithdrawEth        = "withdrawEth"
	MethodBalanceOf          = "balanceOf"
	MethodGetTotalFees       = "getTotalFees"
	MethodWithdrawFees       = "withdrawFeeContractEth"
	MethodCalculateOverdraft = "calculateOverdraft"
	MethodGetTotalOverdraft  = "getTotalOverdraft"
	MethodWithdrawOverdraft  = "withdrawOverdraftContractEth"
)

// DefaultParamsSpec mirrors the parameters used against a local development chain.
func DefaultParamsSpec() ParamsSpec {
	return ParamsSpec{
		BorrowRatio:              100,
		MinDuration:              1,
		MaxDuration:              10,
		MinFee:                   MustParseEther("0.1"),
		MaxFee:                   MustParseEther("0.2"),
		OverdraftPercentDuration: 50,
		OverdraftFee:             MustParseEther("0.1"),
	}
}
