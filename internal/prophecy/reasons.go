package prophecy

// reasonTable maps contract custom errors to user-facing copy.
var reasonTable = map[string]string{
	"InvalidBettingAmount":     "Invalid betting amount",
	"InvalidDate":              "Invalid date",
	"InvalidOracle":            "Invalid oracle",
	"InsufficientAllowance":    "Insufficient USDC allowance",
	"InsufficientBalance":      "Insufficient USDC balance",
	"InvalidSentence":          "Invalid sentence",
	"InvalidTargetDates":       "Invalid target dates",
	"TransferFailed":           "USDC transfer failed",
	"OracleNotFound":           "Oracle not found",
	"ERC20InsufficientBalance": "Insufficient USDC balance",
}

// Reasons returns a copy of the revert reason table.
func Reasons() map[string]string {
	out := make(map[string]string, len(reasonTable))
	for k, v := range reasonTable {
		out[k] = v
	}
	return out
}
