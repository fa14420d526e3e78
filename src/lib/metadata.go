package lib

import (
	"context"
	"encoding/json"
	"time"

	"nftdiarias/src/types"
)

// MetadataPinner stores a token metadata document and returns the URI to mint with.
type MetadataPinner interface {
	Pin(ctx context.Context, name string, document []byte) (string, error)
}

const metadataDateFormat = "2006-01-02"

// ReservationMetadata adds the stay window and property to meta and encodes it.
// Attributes the caller already set are kept.
func ReservationMetadata(meta types.TokenMetadata, imovelID string, start, end int64, address string) ([]byte, error) {
	has := make(map[string]bool, len(meta.Attributes))
	for _, a := range meta.Attributes {
		has[a.TraitType] = true
	}
	add := func(trait string, value any) {
		if has[trait] {
			return
		}
		meta.Attributes = append(meta.Attributes, types.MetadataAttribute{TraitType: trait, Value: value})
	}
	if imovelID != "" {
		add("Imóvel", imovelID)
	}
	if start > 0 {
		add("Data Início", time.Unix(start, 0).UTC().Format(metadataDateFormat))
	}
	if end > 0 {
		add("Data Fim", time.Unix(end, 0).UTC().Format(metadataDateFormat))
	}
	if address != "" {
		add("Endereço", address)
	}
	return json.Marshal(meta)
}
