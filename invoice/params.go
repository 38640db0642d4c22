package invoice

import (
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
)

// Network names used in the network query parameter.
const (
	NetworkMainnet = "bitcoin"
	NetworkTestnet = "testnet"
	NetworkRegtest = "regtest"
	NetworkSignet  = "signet"
)

// networks are the supported networks in the order addresses without a
// network parameter are tried against.
var networks = []struct {
	name   string
	params *chaincfg.Params
}{
	{NetworkMainnet, &chaincfg.MainNetParams},
	{NetworkTestnet, &chaincfg.TestNet3Params},
	{NetworkSignet, &chaincfg.SigNetParams},
	{NetworkRegtest, &chaincfg.RegressionNetParams},
}

// Net returns the parameters of a network by name. Both the invoice names
// and the btcd names are accepted.
func Net(name string) (*chaincfg.Params, error) {
	name = strings.ToLower(name)
	switch name {
	case "mainnet":
		name = NetworkMainnet
	case "testnet3":
		name = NetworkTestnet
	}

	for _, n := range networks {
		if n.name == name {
			return n.params, nil
		}
	}

	return nil, ErrUnknownNetwork
}

// NetName returns the invoice name of the network.
func NetName(params *chaincfg.Params) string {
	for _, n := range networks {
		if n.params.Net == params.Net {
			return n.name
		}
	}
	return params.Name
}

// isTestnet returns true for every network but mainnet.
func isTestnet(params *chaincfg.Params) bool {
	return params.Net != chaincfg.MainNetParams.Net
}
