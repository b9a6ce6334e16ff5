package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	NetworkKeyBaseSepolia     = "base-sepolia"
	NetworkKeyUnichainSepolia = "unichain-sepolia"
)

var (
	ErrUnknownNetwork        = errors.New("unknown network")
	ErrContractNotConfigured = errors.New("contract address not configured")
)

type Contracts struct {
	Memebank   common.Address `json:"memebank"`
	Stable     common.Address `json:"stable"`
	Collateral common.Address `json:"collateral"`
	Oracle     common.Address `json:"oracle"`
}

type NativeCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

type Network struct {
	Key              string         `json:"key"`
	Name             string         `json:"name"`
	ChainID          uint64         `json:"chainId"`
	Description      string         `json:"description"`
	RPC              string         `json:"rpc"`
	Explorer         string         `json:"explorer"`
	Currency         NativeCurrency `json:"nativeCurrency"`
	Contracts        Contracts      `json:"contracts"`
	StableSymbol     string         `json:"stableSymbol"`
	CollateralSymbol string         `json:"collateralSymbol"`
}

var ethCurrency = NativeCurrency{Name: "ETH", Symbol: "ETH", Decimals: 18}

// Base Sepolia contracts are deployment specific and come from configuration.
func builtinNetworks() []*Network {
	return []*Network{
		{
			Key:              NetworkKeyBaseSepolia,
			Name:             "Base Sepolia",
			ChainID:          84532,
			Description:      "Base Network Testnet for Memebank",
			RPC:              "https://sepolia.base.org",
			Explorer:         "https://sepolia.basescan.org",
			Currency:         ethCurrency,
			StableSymbol:     "USDT",
			CollateralSymbol: "DOGE",
		},
		{
			Key:         NetworkKeyUnichainSepolia,
			Name:        "Unichain Sepolia",
			ChainID:     1301,
			Description: "Unichain Network Testnet for Memebank",
			RPC:         "https://sepolia.unichain.org",
			Explorer:    "https://sepolia.uniscan.xyz",
			Currency:    ethCurrency,
			Contracts: Contracts{
				Memebank:   common.HexToAddress("0x04AadC73a574e309B1e346d326529f039826630f"),
				Stable:     common.HexToAddress("0x70972044A7fD7dF4B431200f2615bD2f6744a3D8"),
				Collateral: common.HexToAddress("0xC7A897f91EaA7A883c161416AE773Db6C8A223A1"),
				Oracle:     common.HexToAddress("0xdDE2D5D7B99aa5937327f5D9A47539274d244190"),
			},
			StableSymbol:     "USDT",
			CollateralSymbol: "DOGE",
		},
	}
}

func (n *Network) Validate() error {
	missing := make([]string, 0, 4)
	zero := common.Address{}
	if n.Contracts.Memebank == zero {
		missing = append(missing, "memebank")
	}
	if n.Contracts.Stable == zero {
		missing = append(missing, "stable")
	}
	if n.Contracts.Collateral == zero {
		missing = append(missing, "collateral")
	}
	if n.Contracts.Oracle == zero {
		missing = append(missing, "oracle")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w on %s: %s", ErrContractNotConfigured, n.Key, strings.Join(missing, ", "))
	}
	if n.RPC == "" {
		return fmt.Errorf("rpc endpoint required for %s", n.Key)
	}
	return nil
}

// ChainIDHex renders the chain id the way wallets expect it, e.g. 0x515.
func (n *Network) ChainIDHex() string {
	return hexutil.EncodeUint64(n.ChainID)
}

type AddChainParams struct {
	ChainID           string         `json:"chainId"`
	ChainName         string         `json:"chainName"`
	NativeCurrency    NativeCurrency `json:"nativeCurrency"`
	RPCUrls           []string       `json:"rpcUrls"`
	BlockExplorerUrls []string       `json:"blockExplorerUrls"`
}

func (n *Network) AddChainParams() AddChainParams {
	p := AddChainParams{
		ChainID:        n.ChainIDHex(),
		ChainName:      n.Name,
		NativeCurrency: n.Currency,
		RPCUrls:        []string{n.RPC},
	}
	if n.Explorer != "" {
		p.BlockExplorerUrls = []string{n.Explorer}
	}
	return p
}

func (n *Network) TxURL(hash common.Hash) string {
	if n.Explorer == "" {
		return ""
	}
	return strings.TrimRight(n.Explorer, "/") + "/tx/" + hash.Hex()
}

type NetworkRegistry struct {
	networks []*Network
}

func NewNetworkRegistry(overrides []*NetworkConf) (*NetworkRegistry, error) {
	r := &NetworkRegistry{networks: builtinNetworks()}
	for _, o := range overrides {
		if err := r.apply(o); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *NetworkRegistry) apply(o *NetworkConf) error {
	if o == nil {
		return nil
	}
	if o.Key == "" {
		return errors.New("network override requires a key")
	}

	n, err := r.Find(o.Key)
	if err != nil {
		if o.ChainID == 0 {
			return fmt.Errorf("new network %s requires chain_id", o.Key)
		}
		n = &Network{Key: o.Key, Name: o.Key, Currency: ethCurrency, StableSymbol: "USDT", CollateralSymbol: "DOGE"}
		r.networks = append(r.networks, n)
	}

	setString(&n.Name, o.Name)
	setString(&n.Description, o.Description)
	setString(&n.RPC, o.RPC)
	setString(&n.Explorer, o.Explorer)
	if o.ChainID != 0 {
		n.ChainID = o.ChainID
	}

	for _, c := range []struct {
		dst *common.Address
		src string
	}{
		{&n.Contracts.Memebank, o.Memebank},
		{&n.Contracts.Stable, o.Stable},
		{&n.Contracts.Collateral, o.Collateral},
		{&n.Contracts.Oracle, o.Oracle},
	} {
		if c.src == "" {
			continue
		}
		if !common.IsHexAddress(c.src) {
			return fmt.Errorf("network %s: invalid address %q", o.Key, c.src)
		}
		*c.dst = common.HexToAddress(c.src)
	}
	return nil
}

func setString(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

// Networks returns the selector list in display order.
func (r *NetworkRegistry) Networks() []*Network {
	return r.networks
}

// Find resolves a network by key, display name, decimal chain id or hex chain id.
func (r *NetworkRegistry) Find(s string) (*Network, error) {
	s = strings.TrimSpace(s)
	var chainID uint64
	if strings.HasPrefix(s, "0x") {
		chainID, _ = hexutil.DecodeUint64(s)
	} else {
		chainID, _ = strconv.ParseUint(s, 10, 64)
	}

	for _, n := range r.networks {
		if n.Key == s || strings.EqualFold(n.Name, s) || (chainID != 0 && n.ChainID == chainID) {
			return n, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, s)
}

func (r *NetworkRegistry) FindByChainID(chainID uint64) (*Network, error) {
	return r.Find(strconv.FormatUint(chainID, 10))
}
