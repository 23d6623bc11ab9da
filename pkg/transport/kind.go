package transport

import (
	"fmt"
	"net/url"
	"strings"
)

// Kind selects the binding profile, policy ceiling and address convention
// applied to an endpoint.
type Kind int

const (
	InProcess Kind = iota
	Intranet
	Queue
)

// Family groups kinds that share a policy ceiling.
type Family int

const (
	StreamFamily Family = iota
	QueueFamily
)

const (
	SchemePipe      = "pipe"
	SchemeTCP       = "tcp"
	SchemeWebSocket = "ws"
	SchemeQueue     = "nats"
)

var Kinds = []Kind{InProcess, Intranet, Queue}

func (k Kind) String() string {
	switch k {
	case InProcess:
		return "inprocess"
	case Intranet:
		return "intranet"
	case Queue:
		return "queue"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) Valid() bool {
	return k >= InProcess && k <= Queue
}

func (k Kind) Family() Family {
	if k == Queue {
		return QueueFamily
	}
	return StreamFamily
}

func (f Family) String() string {
	if f == QueueFamily {
		return "queue"
	}
	return "stream"
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inprocess", "inproc", "pipe":
		return InProcess, nil
	case "intranet", "tcp":
		return Intranet, nil
	case "queue", "msmq", "nats":
		return Queue, nil
	default:
		return 0, fmt.Errorf("unknown transport kind %q", s)
	}
}

// KindOfScheme maps an address scheme back to its transport kind.
func KindOfScheme(scheme string) (Kind, bool) {
	switch scheme {
	case SchemePipe:
		return InProcess, true
	case SchemeTCP, SchemeWebSocket:
		return Intranet, true
	case SchemeQueue:
		return Queue, true
	default:
		return 0, false
	}
}

// SchemeOf returns the scheme of an endpoint address.
func SchemeOf(address string) (string, error) {
	u, err := url.Parse(address)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", address, err)
	}
	if u.Scheme == "" {
		return "", fmt.Errorf("address %q has no scheme", address)
	}
	return u.Scheme, nil
}
