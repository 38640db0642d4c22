package invoice

import (
	"fmt"
	"strings"
)

// TransportKind is the protocol of a consignment transport endpoint.
type TransportKind uint8

const (
	// TransportJSONRPC is a JSON-RPC endpoint.
	TransportJSONRPC TransportKind = iota

	// TransportREST is a REST over HTTP endpoint.
	TransportREST

	// TransportWebSockets is a websockets endpoint.
	TransportWebSockets

	// TransportStorm is the Storm peer-to-peer network.
	TransportStorm
)

const transportHostSep = "://"

// Transport is an endpoint the payer may send the consignment to.
type Transport struct {
	Kind TransportKind
	TLS  bool
	Host string
}

// String returns the `scheme://host` form of the endpoint.
func (t Transport) String() string {
	var scheme string
	switch t.Kind {
	case TransportJSONRPC:
		scheme = "rpc"
	case TransportREST:
		scheme = "http"
	case TransportWebSockets:
		scheme = "ws"
	case TransportStorm:
		return "storm" + transportHostSep + "_/"
	}
	if t.TLS {
		scheme += "s"
	}

	return scheme + transportHostSep + t.Host
}

// ParseTransport parses the `scheme://host` form of an endpoint.
func ParseTransport(s string) (Transport, error) {
	scheme, host, ok := strings.Cut(s, transportHostSep)
	if !ok {
		return Transport{}, fmt.Errorf("%w: %s", ErrInvalidTransport, s)
	}
	if host == "" {
		return Transport{}, fmt.Errorf("%w: empty host in %s",
			ErrInvalidTransport, s)
	}

	t := Transport{Host: host}
	switch scheme {
	case "rpc", "rpcs":
		t.Kind = TransportJSONRPC
	case "http", "https":
		t.Kind = TransportREST
	case "ws", "wss":
		t.Kind = TransportWebSockets
	case "storm":
		return Transport{Kind: TransportStorm, Host: "_/"}, nil
	default:
		return Transport{}, fmt.Errorf("%w: unknown scheme %s",
			ErrInvalidTransport, scheme)
	}
	t.TLS = scheme == "rpcs" || scheme == "https" || scheme == "wss"

	return t, nil
}
