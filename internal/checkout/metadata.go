package checkout

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	metaProductIDs = "product_ids"
	metaQuantities = "quantities"
	metaZone       = "shipping_zone"
	metaVersion    = "v"

	intentVersion = "1"

	// Stripe rejects metadata values longer than this.
	maxMetadataValue = 500
)

var (
	ErrMetadataTooLarge  = errors.New("order intent exceeds metadata limits")
	ErrMalformedMetadata = errors.New("malformed order intent metadata")
)

var productIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Intent is the order as the buyer saw it at checkout, carried through the
// gateway as session metadata and re-read when payment completes.
type Intent struct {
	Lines []IntentLine
	Zone  Zone
}

type IntentLine struct {
	ProductID string
	Quantity  int
}

func (i Intent) ProductIDs() []string {
	ids := make([]string, len(i.Lines))
	for n, line := range i.Lines {
		ids[n] = line.ProductID
	}
	return ids
}

func EncodeIntent(intent Intent) (map[string]string, error) {
	ids := make([]string, len(intent.Lines))
	quantities := make([]string, len(intent.Lines))
	for n, line := range intent.Lines {
		ids[n] = line.ProductID
		quantities[n] = strconv.Itoa(line.Quantity)
	}

	meta := map[string]string{
		metaProductIDs: strings.Join(ids, ","),
		metaQuantities: strings.Join(quantities, ","),
		metaZone:       string(intent.Zone),
		metaVersion:    intentVersion,
	}

	for key, value := range meta {
		if len(value) > maxMetadataValue {
			return nil, fmt.Errorf("%w: %s is %d characters", ErrMetadataTooLarge, key, len(value))
		}
	}

	return meta, nil
}

// DecodeIntent parses metadata written by EncodeIntent. Anything else is
// reported as ErrMalformedMetadata.
func DecodeIntent(meta map[string]string) (Intent, error) {
	var intent Intent

	if len(meta) == 0 {
		return intent, fmt.Errorf("%w: no metadata", ErrMalformedMetadata)
	}
	if v := meta[metaVersion]; v != intentVersion {
		return intent, fmt.Errorf("%w: unsupported version %q", ErrMalformedMetadata, v)
	}

	rawIDs, ok := meta[metaProductIDs]
	if !ok || rawIDs == "" {
		return intent, fmt.Errorf("%w: missing %s", ErrMalformedMetadata, metaProductIDs)
	}
	rawQuantities, ok := meta[metaQuantities]
	if !ok || rawQuantities == "" {
		return intent, fmt.Errorf("%w: missing %s", ErrMalformedMetadata, metaQuantities)
	}

	zone, ok := ParseZone(meta[metaZone])
	if !ok {
		return intent, fmt.Errorf("%w: unknown shipping zone %q", ErrMalformedMetadata, meta[metaZone])
	}

	ids := strings.Split(rawIDs, ",")
	quantities := strings.Split(rawQuantities, ",")
	if len(ids) != len(quantities) {
		return intent, fmt.Errorf("%w: %d product ids but %d quantities", ErrMalformedMetadata, len(ids), len(quantities))
	}

	seen := make(map[string]bool, len(ids))
	lines := make([]IntentLine, len(ids))
	for n, id := range ids {
		if !productIDPattern.MatchString(id) {
			return intent, fmt.Errorf("%w: invalid product id %q", ErrMalformedMetadata, id)
		}
		if seen[id] {
			return intent, fmt.Errorf("%w: duplicate product id %q", ErrMalformedMetadata, id)
		}
		seen[id] = true

		quantity, err := strconv.Atoi(quantities[n])
		if err != nil || quantity < 1 {
			return intent, fmt.Errorf("%w: invalid quantity %q for %s", ErrMalformedMetadata, quantities[n], id)
		}

		lines[n] = IntentLine{ProductID: id, Quantity: quantity}
	}

	intent.Lines = lines
	intent.Zone = zone
	return intent, nil
}
