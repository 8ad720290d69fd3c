package artifact

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// MarkerScheme selects how verification markers are computed
type MarkerScheme string

const (
	// MarkerLegacy is a 32-bit rolling hash. It detects accidental edits only.
	MarkerLegacy MarkerScheme = "legacy"
	// MarkerKeyed is a BLAKE2b-256 MAC under a server-side key
	MarkerKeyed MarkerScheme = "keyed"
)

// Marker derives the verification marker printed on an artifact. The result
// depends only on its inputs.
type Marker interface {
	Scheme() MarkerScheme
	Compute(documentID, approverName string, signedAt time.Time) string
}

// NewMarker builds the marker for scheme. The keyed scheme needs a key of
// 16 to 64 bytes.
func NewMarker(scheme MarkerScheme, key []byte) (Marker, error) {
	switch scheme {
	case MarkerLegacy, "":
		return legacyMarker{}, nil
	case MarkerKeyed:
		if len(key) < 16 || len(key) > blake2b.Size {
			return nil, fmt.Errorf("keyed marker needs a 16-64 byte key, got %d", len(key))
		}
		return keyedMarker{key: append([]byte(nil), key...)}, nil
	}
	return nil, fmt.Errorf("unknown marker scheme %q", scheme)
}

func markerInput(documentID, approverName string, signedAt time.Time) string {
	return documentID + "|" + approverName + "|" + signedAt.UTC().Format(time.RFC3339)
}

type legacyMarker struct{}

func (legacyMarker) Scheme() MarkerScheme { return MarkerLegacy }

func (legacyMarker) Compute(documentID, approverName string, signedAt time.Time) string {
	var h int32
	for _, r := range markerInput(documentID, approverName, signedAt) {
		h = (h << 5) - h + int32(r)
	}
	return fmt.Sprintf("VM-%08X", uint32(h))
}

type keyedMarker struct {
	key []byte
}

func (keyedMarker) Scheme() MarkerScheme { return MarkerKeyed }

func (m keyedMarker) Compute(documentID, approverName string, signedAt time.Time) string {
	// key length is checked in NewMarker, so New256 cannot fail here
	h, _ := blake2b.New256(m.key)
	h.Write([]byte(markerInput(documentID, approverName, signedAt)))
	sum := h.Sum(nil)
	return "VK-" + strings.ToUpper(hex.EncodeToString(sum[:16]))
}
