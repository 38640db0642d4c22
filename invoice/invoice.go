package invoice

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightninglabs/rgb/contract"
	"github.com/lightninglabs/rgb/seal"
)

const (
	// Scheme is the URI scheme of RGB invoices.
	Scheme = "rgb"

	// omitted stands for a path segment left to the payer.
	omitted = "~"

	amountSep   = "+"
	endpointSep = ","

	queryExpiry    = "expiry"
	queryNetwork   = "network"
	queryEndpoints = "endpoints"
)

var ifaceName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Beneficiary is the receiver of invoiced state: either a blinded seal
// known by its auth token or a bitcoin address whose output receives the
// state.
type Beneficiary struct {
	// Token is set for blinded beneficiaries.
	Token *seal.AuthToken

	// Address is set for witness output beneficiaries.
	Address btcutil.Address
}

// BlindedBeneficiary returns a beneficiary receiving on a blinded seal.
func BlindedBeneficiary(token seal.AuthToken) Beneficiary {
	return Beneficiary{Token: &token}
}

// AddressBeneficiary returns a beneficiary receiving on an output paying to
// the address.
func AddressBeneficiary(addr btcutil.Address) Beneficiary {
	return Beneficiary{Address: addr}
}

// IsBlinded returns true if the beneficiary is a blinded seal.
func (b Beneficiary) IsBlinded() bool {
	return b.Token != nil
}

// String returns the text form of the beneficiary.
func (b Beneficiary) String() string {
	if b.Token != nil {
		return b.Token.String()
	}
	if b.Address != nil {
		return b.Address.EncodeAddress()
	}
	return ""
}

// Invoice is a request to receive contract state.
type Invoice struct {
	// Contract is the contract state is requested of. Nil if any
	// contract of the interface will do.
	Contract *contract.ContractID

	// Iface is the name of the interface the payer must use.
	Iface string

	// Amount is the requested fungible amount. Nil for invoices that
	// don't name an amount.
	Amount *uint64

	// Beneficiary receives the state.
	Beneficiary Beneficiary

	// Network is the bitcoin network of the invoice. Nil if unspecified.
	Network *chaincfg.Params

	// Expiry is the time after which the invoice must not be paid. Nil
	// for invoices that don't expire.
	Expiry *time.Time

	// Endpoints are the transports the consignment may be sent over.
	Endpoints []Transport

	// Extra holds query parameters not known to this version.
	Extra map[string]string
}

// IsExpired returns true if the invoice has an expiry before now.
func (i *Invoice) IsExpired(now time.Time) bool {
	return i.Expiry != nil && now.After(*i.Expiry)
}

// String returns the URI form of the invoice.
func (i *Invoice) String() string {
	var b strings.Builder
	b.WriteString(Scheme + ":")

	if i.Contract != nil {
		b.WriteString(i.Contract.String())
	} else {
		b.WriteString(omitted)
	}
	b.WriteString("/")

	if i.Iface != "" {
		b.WriteString(i.Iface)
	} else {
		b.WriteString(omitted)
	}
	b.WriteString("/")

	if i.Amount != nil {
		b.WriteString(strconv.FormatUint(*i.Amount, 10) + amountSep)
	}
	b.WriteString(i.Beneficiary.String())

	if query := i.query(); query != "" {
		b.WriteString("?" + query)
	}

	return b.String()
}

// query encodes the known parameters first, then the extra ones by key.
func (i *Invoice) query() string {
	var params []string
	add := func(k, v string) {
		params = append(params, url.QueryEscape(k)+"="+url.QueryEscape(v))
	}

	if i.Expiry != nil {
		add(queryExpiry, strconv.FormatInt(i.Expiry.Unix(), 10))
	}

	// Address beneficiaries already tell the network.
	if i.Network != nil && i.Beneficiary.Address == nil {
		add(queryNetwork, NetName(i.Network))
	}

	if len(i.Endpoints) > 0 {
		endpoints := make([]string, 0, len(i.Endpoints))
		for _, t := range i.Endpoints {
			endpoints = append(endpoints, t.String())
		}
		add(queryEndpoints, strings.Join(endpoints, endpointSep))
	}

	keys := make([]string, 0, len(i.Extra))
	for k := range i.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		add(k, i.Extra[k])
	}

	return strings.Join(params, "&")
}

// Parse parses the URI form of an invoice:
//
//	rgb:<contract|~>/<iface|~>/[<amount>+]<beneficiary>[?<params>]
func Parse(s string) (*Invoice, error) {
	scheme, rest, ok := strings.Cut(s, ":")
	if !ok || !strings.EqualFold(scheme, Scheme) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidScheme, s)
	}

	path, rawQuery, _ := strings.Cut(rest, "?")
	segments := strings.Split(path, "/")
	if len(segments) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d",
			ErrInvalidPath, len(segments))
	}
	for idx, segment := range segments {
		unescaped, err := url.PathUnescape(segment)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
		}
		segments[idx] = unescaped
	}

	inv := &Invoice{}
	if segments[0] != omitted {
		id, err := contract.ParseContractID(segments[0])
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidContractID,
				segments[0])
		}
		inv.Contract = &id
	}

	if segments[1] != omitted {
		if !ifaceName.MatchString(segments[1]) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidIface,
				segments[1])
		}
		inv.Iface = segments[1]
	}
	if inv.Contract != nil && inv.Iface == "" {
		return nil, ErrContractNoIface
	}

	beneficiary := segments[2]
	if amount, b, ok := strings.Cut(beneficiary, amountSep); ok {
		value, err := strconv.ParseUint(amount, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidAmount,
				amount)
		}
		inv.Amount = &value
		beneficiary = b
	}

	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}

	var network *chaincfg.Params
	if values, ok := query[queryNetwork]; ok {
		network, err = Net(values[0])
		if err != nil {
			return nil, fmt.Errorf("%w: %s", err, values[0])
		}
		delete(query, queryNetwork)
	}

	inv.Beneficiary, inv.Network, err = parseBeneficiary(
		beneficiary, network,
	)
	if err != nil {
		return nil, err
	}

	if values, ok := query[queryExpiry]; ok {
		ts, err := strconv.ParseInt(values[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidExpiry,
				values[0])
		}
		expiry := time.Unix(ts, 0)
		inv.Expiry = &expiry
		delete(query, queryExpiry)
	}

	if values, ok := query[queryEndpoints]; ok {
		for _, endpoint := range strings.Split(values[0], endpointSep) {
			t, err := ParseTransport(endpoint)
			if err != nil {
				return nil, err
			}
			inv.Endpoints = append(inv.Endpoints, t)
		}
		delete(query, queryEndpoints)
	}

	for k, values := range query {
		if inv.Extra == nil {
			inv.Extra = make(map[string]string)
		}
		inv.Extra[k] = values[0]
	}

	return inv, nil
}

// parseBeneficiary parses an auth token or an address. Addresses without a
// network are tried against every supported network.
func parseBeneficiary(s string, network *chaincfg.Params) (Beneficiary,
	*chaincfg.Params, error) {

	if token, err := seal.ParseAuthToken(s); err == nil {
		return BlindedBeneficiary(token), network, nil
	}

	if network != nil {
		// Addresses of any test network are accepted on the others.
		for _, n := range networks {
			if isTestnet(n.params) != isTestnet(network) {
				continue
			}
			addr, err := btcutil.DecodeAddress(s, n.params)
			if err != nil || !addr.IsForNet(n.params) {
				continue
			}
			return AddressBeneficiary(addr), network, nil
		}

		for _, n := range networks {
			addr, err := btcutil.DecodeAddress(s, n.params)
			if err == nil && addr.IsForNet(n.params) {
				return Beneficiary{}, nil, &NetworkMismatchError{
					Address: s,
					Network: NetName(network),
				}
			}
		}

		return Beneficiary{}, nil, fmt.Errorf("%w: %s",
			ErrInvalidBeneficiary, s)
	}

	for _, n := range networks {
		addr, err := btcutil.DecodeAddress(s, n.params)
		if err == nil && addr.IsForNet(n.params) {
			return AddressBeneficiary(addr), n.params, nil
		}
	}

	return Beneficiary{}, nil, fmt.Errorf("%w: %s", ErrInvalidBeneficiary, s)
}
