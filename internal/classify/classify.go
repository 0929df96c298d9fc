// Package classify derives link quality counts from the link program's
// free-form diagnostic output.
package classify

import (
	"strings"

	"golang.org/x/text/encoding/unicode"

	"github.com/pingsantohq/linkbench/internal/config"
	"github.com/pingsantohq/linkbench/pkg/types"
)

// Classifier maps one process's captured text to counts. Implementations
// must not fail: unexpected text yields zero counts.
type Classifier interface {
	Classify(text string) types.Counts
}

// MarkerClassifier counts fixed substrings anywhere in the text.
type MarkerClassifier struct {
	Sent     string
	Received string
	CRCError string
}

// NewMarkerClassifier uses the markers from harness configuration.
func NewMarkerClassifier(markers config.MarkerConfig) MarkerClassifier {
	return MarkerClassifier{
		Sent:     markers.Sent,
		Received: markers.Received,
		CRCError: markers.CRCError,
	}
}

func (c MarkerClassifier) Classify(text string) types.Counts {
	return types.Counts{
		Sent:      count(text, c.Sent),
		Received:  count(text, c.Received),
		CRCErrors: count(text, c.CRCError),
	}
}

// count is strings.Count without the empty-marker special case.
func count(text, marker string) uint64 {
	if marker == "" {
		return 0
	}
	return uint64(strings.Count(text, marker))
}

// Pair combines the transmit side's sent count with the receive side's
// received and CRC error counts.
func Pair(c Classifier, transmitText, receiveText string) types.Counts {
	tx := c.Classify(transmitText)
	rx := c.Classify(receiveText)
	return types.Counts{
		Sent:      tx.Sent,
		Received:  rx.Received,
		CRCErrors: rx.CRCErrors,
	}
}

// Decode turns captured bytes into text, replacing malformed UTF-8 with U+FFFD.
func Decode(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	out, err := unicode.UTF8.NewDecoder().Bytes(raw)
	if err != nil {
		return strings.ToValidUTF8(string(raw), "�")
	}
	return string(out)
}
