package abi_instance

import "github.com/ethereum/go-ethereum/accounts/abi"

const (
	OracleABIJson = `[{"inputs":[],"name":"getMemecoinPrice","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

	// OraclePriceDecimals is the fixed-point scale of getMemecoinPrice.
	OraclePriceDecimals = 18
)

var (
	OracleABI *abi.ABI
)

func init() {
	OracleABI = mustParse(OracleABIJson)
}
