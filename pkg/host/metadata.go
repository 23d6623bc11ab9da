package host

import (
	"context"
	"encoding/json"
	"fmt"
)

// MetadataMethod is the only method served by the metadata endpoint.
const MetadataMethod = "Get"

type MetadataEndpoint struct {
	Contract string `json:"contract"`
	Address  string `json:"address"`
	Kind     string `json:"kind"`
	Binding  string `json:"binding"`
}

// MetadataDocument describes a host and every endpoint it exposes.
type MetadataDocument struct {
	Service   string             `json:"service"`
	Contracts []string           `json:"contracts"`
	Endpoints []MetadataEndpoint `json:"endpoints"`
}

func (h *Host) Metadata() MetadataDocument {
	doc := MetadataDocument{
		Service: h.svc.Name,
	}
	for _, c := range h.svc.Contracts {
		doc.Contracts = append(doc.Contracts, c.FullName)
	}
	for _, ep := range h.Endpoints() {
		name := ""
		if ep.Binding != nil {
			name = ep.Binding.Name
		}
		doc.Endpoints = append(doc.Endpoints, MetadataEndpoint{
			Contract: ep.Contract.FullName,
			Address:  ep.Address,
			Kind:     ep.Kind.String(),
			Binding:  name,
		})
	}
	return doc
}

func (h *Host) metadataHandler(ctx context.Context, method string, payload []byte) ([]byte, error) {
	if method != MetadataMethod {
		return nil, fmt.Errorf("metadata endpoint has no method %q", method)
	}
	return json.Marshal(h.Metadata())
}
