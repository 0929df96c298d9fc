// Package synth turns a parameter triple into the configuration documents
// the link program reads at startup.
package synth

import (
	"fmt"
	"path/filepath"

	"github.com/pingsantohq/linkbench/internal/config"
	"github.com/pingsantohq/linkbench/pkg/types"
)

// Synthesizer renders and persists role documents. Its dialect and output
// directory are fixed at construction.
type Synthesizer struct {
	dir     string
	dialect string
	infra   config.InfrastructureConfig
	radio   config.RadioConfig
}

// Paths names the two documents of a trial.
type Paths struct {
	Transmit string
	Receive  string
}

// New builds a Synthesizer from harness configuration. A non-empty dir
// overrides cfg.Link.ConfigDir.
func New(cfg config.Config, dir string) *Synthesizer {
	if dir == "" {
		dir = cfg.Link.ConfigDir
	}
	if dir == "" {
		dir = "."
	}
	dialect := cfg.Link.Dialect
	if dialect == "" {
		dialect = config.DialectRON
	}
	return &Synthesizer{
		dir:     dir,
		dialect: dialect,
		infra:   cfg.Infrastructure,
		radio:   cfg.Radio,
	}
}

func (s *Synthesizer) Dialect() string { return s.dialect }

// Path is the well-known location of the role's document.
func (s *Synthesizer) Path(role types.Role) string {
	ext := config.LinkConfig{Dialect: s.dialect}.Extension()
	return filepath.Join(s.dir, role.ConfigBaseName()+ext)
}

// Document builds the role's configuration. It has no side effects.
func (s *Synthesizer) Document(params types.Parameters, role types.Role) Document {
	pins := s.infra.Receive
	if role == types.RoleTransmit {
		pins = s.infra.Transmit
	}
	var enabled *bool
	if s.infra.MQTT.Enabled != nil {
		v := *s.infra.MQTT.Enabled
		enabled = &v
	}
	var bme *BMESection
	if b := s.infra.BME; b != nil {
		bme = &BMESection{
			I2CBusPath:          b.I2CBusPath,
			I2CAddress:          b.I2CAddress,
			MeasurementInterval: b.MeasurementInterval,
			Enabled:             b.Enabled,
		}
	}
	return Document{
		MQTT: MQTTSection{
			IP:       s.infra.MQTT.IP,
			Port:     s.infra.MQTT.Port,
			Login:    s.infra.MQTT.Login,
			Password: s.infra.MQTT.Password,
			Topic:    s.infra.MQTT.Topic,
			Enabled:  enabled,
		},
		LoRa: LoRaSection{
			Mode:      role.Mode(),
			ResetGPIO: pins.ResetGPIO,
			DIO0GPIO:  pins.DIO0GPIO,
			SPI: SPISection{
				SpidevPath:  pins.SpidevPath,
				BitsPerWord: s.infra.SPI.BitsPerWord,
				MaxSpeedHz:  s.infra.SPI.MaxSpeedHz,
				LSBFirst:    s.infra.SPI.LSBFirst,
				SPIMode:     s.infra.SPI.Mode,
			},
			Radio: RadioSection{
				Frequency:       s.radio.Frequency,
				Bandwidth:       params.Bandwidth,
				CodingRate:      params.CodingRate,
				SpreadingFactor: params.SpreadingFactor,
				TxPower:         s.radio.TxPower,
			},
		},
		BME: bme,
	}
}

// Render serializes doc in the synthesizer's dialect.
func (s *Synthesizer) Render(doc Document) ([]byte, error) {
	switch s.dialect {
	case config.DialectRON:
		return renderRON(doc), nil
	case config.DialectTOML:
		return renderTOML(doc)
	default:
		return nil, fmt.Errorf("unsupported dialect %q", s.dialect)
	}
}

// Write renders the role's document and replaces whatever was at its path.
func (s *Synthesizer) Write(params types.Parameters, role types.Role) (string, error) {
	data, err := s.Render(s.Document(params, role))
	if err != nil {
		return "", err
	}
	path := s.Path(role)
	if err := config.WriteFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("write %s config: %w", role, err)
	}
	return path, nil
}

// WritePair writes the transmit document, then the receive document.
func (s *Synthesizer) WritePair(params types.Parameters) (Paths, error) {
	var paths Paths
	var err error
	if paths.Transmit, err = s.Write(params, types.RoleTransmit); err != nil {
		return Paths{}, err
	}
	if paths.Receive, err = s.Write(params, types.RoleReceive); err != nil {
		return Paths{}, err
	}
	return paths, nil
}
