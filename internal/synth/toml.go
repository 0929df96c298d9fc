package synth

import (
	"bytes"
	"fmt"

	"github.com/BurntSushi/toml"
)

func renderTOML(doc Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.Indent = ""
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode toml document: %w", err)
	}
	return buf.Bytes(), nil
}
