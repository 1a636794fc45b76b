package contractnegotiation

import (
	"encoding/json"

	mh "github.com/multiformats/go-multihash"
	"golang.org/x/xerrors"
)

// HashOffer returns the base58 sha2-256 multihash of the offer's JSON encoding.
// Both parties compute it independently to check that they talk about the same terms.
func HashOffer(offer ContractOffer) (string, error) {
	b, err := json.Marshal(offer)
	if err != nil {
		return "", xerrors.Errorf("marshaling offer %s: %w", offer.ID, err)
	}
	h, err := mh.Sum(b, mh.SHA2_256, -1)
	if err != nil {
		return "", xerrors.Errorf("hashing offer %s: %w", offer.ID, err)
	}
	return h.B58String(), nil
}

// MustHashOffer is HashOffer for offers known to be encodable
func MustHashOffer(offer ContractOffer) string {
	h, err := HashOffer(offer)
	if err != nil {
		panic(err)
	}
	return h
}
