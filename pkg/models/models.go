package models

import (
	"fmt"
	"math/big"
	"strings"
)

// ChainID is an EIP-155 chain identifier.
type ChainID int64

// Supported chains.
const (
	ChainMainnet ChainID = 1
	ChainMorden  ChainID = 2
	ChainRopsten ChainID = 3
)

// Chain bundles everything the engine needs to talk to one network:
// the chain id used for signing, the explorer API and the JSON-RPC endpoint.
type Chain struct {
	Name       string  `json:"name"`
	ID         ChainID `json:"id"`
	IndexerURL string  `json:"indexer_url"`
	RPCURL     string  `json:"rpc_url"`
}

// BigID returns the chain id as a *big.Int for transaction signing.
func (c Chain) BigID() *big.Int {
	return big.NewInt(int64(c.ID))
}

var knownChains = map[string]Chain{
	"mainnet": {
		Name:       "mainnet",
		ID:         ChainMainnet,
		IndexerURL: "https://api.etherscan.io/api",
		RPCURL:     "https://mainnet.infura.io",
	},
	"ropsten": {
		Name:       "ropsten",
		ID:         ChainRopsten,
		IndexerURL: "https://api-ropsten.etherscan.io/api",
		RPCURL:     "https://ropsten.infura.io",
	},
}

// ChainByName returns the default descriptor of a known chain.
func ChainByName(name string) (Chain, error) {
	c, ok := knownChains[strings.ToLower(name)]
	if !ok {
		return Chain{}, fmt.Errorf("unknown chain %q", name)
	}
	return c, nil
}

// Transaction is one entry of an address history as reported by the indexer.
// Numeric fields are kept as the decimal strings the explorer returns.
type Transaction struct {
	BlockNumber       string `json:"blockNumber"`
	TimeStamp         string `json:"timeStamp"`
	Hash              string `json:"hash"`
	Nonce             string `json:"nonce"`
	BlockHash         string `json:"blockHash"`
	TransactionIndex  string `json:"transactionIndex"`
	From              string `json:"from"`
	To                string `json:"to"`
	Value             string `json:"value"`
	Gas               string `json:"gas"`
	GasPrice          string `json:"gasPrice"`
	IsError           string `json:"isError"`
	Input             string `json:"input"`
	ContractAddress   string `json:"contractAddress"`
	CumulativeGasUsed string `json:"cumulativeGasUsed"`
	GasUsed           string `json:"gasUsed"`
	Confirmations     string `json:"confirmations"`

	// Extra is computed locally relative to the queried address.
	Extra Extra `json:"extra"`
}

// Extra is the derived annotation attached to every history entry.
type Extra struct {
	ValueEth    float64 `json:"value_eth"`
	Sent        bool    `json:"sent"`
	Received    bool    `json:"received"`
	FromAddress string  `json:"from_address"`
	ToAddress   string  `json:"to_address"`
}

// SendRequest describes a transaction to build, sign and broadcast.
type SendRequest struct {
	To       string
	Value    *big.Int // wei
	Data     []byte   // contract call data
	Sender   string   // empty means the caller-selected account
	GasLimit uint64   // 0 means the configured default
	GasPrice *big.Int // nil means the configured default
}
