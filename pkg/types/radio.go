package types

import (
	"fmt"
	"slices"
)

// Bandwidth is the link program's tag for a LoRa signal bandwidth.
type Bandwidth string

// CodingRate is the link program's tag for a LoRa forward error correction rate.
type CodingRate string

// SpreadingFactor is the link program's tag for a LoRa spreading factor.
type SpreadingFactor string

const (
	Bandwidth7_8kHz   Bandwidth = "bandwidth_7_8kHz"
	Bandwidth10_4kHz  Bandwidth = "bandwidth_10_4kHz"
	Bandwidth15_6kHz  Bandwidth = "bandwidth_15_6kHz"
	Bandwidth20_8kHz  Bandwidth = "bandwidth_20_8kHz"
	Bandwidth31_25kHz Bandwidth = "bandwidth_31_25kHz"
	Bandwidth41_7kHz  Bandwidth = "bandwidth_41_7kHz"
	Bandwidth62_5kHz  Bandwidth = "bandwidth_62_5kHz"
	Bandwidth125kHz   Bandwidth = "bandwidth_125kHz"
	Bandwidth250kHz   Bandwidth = "bandwidth_250kHz"
	Bandwidth500kHz   Bandwidth = "bandwidth_500kHz"
)

const (
	Coding4_5 CodingRate = "coding_4_5"
	Coding4_6 CodingRate = "coding_4_6"
	Coding4_7 CodingRate = "coding_4_7"
	Coding4_8 CodingRate = "coding_4_8"
)

const (
	SpreadingFactor128  SpreadingFactor = "spreading_factor_128"
	SpreadingFactor256  SpreadingFactor = "spreading_factor_256"
	SpreadingFactor512  SpreadingFactor = "spreading_factor_512"
	SpreadingFactor1024 SpreadingFactor = "spreading_factor_1024"
	SpreadingFactor2048 SpreadingFactor = "spreading_factor_2048"
	SpreadingFactor4096 SpreadingFactor = "spreading_factor_4096"
)

var (
	bandwidths = []Bandwidth{
		Bandwidth7_8kHz, Bandwidth10_4kHz, Bandwidth15_6kHz, Bandwidth20_8kHz, Bandwidth31_25kHz,
		Bandwidth41_7kHz, Bandwidth62_5kHz, Bandwidth125kHz, Bandwidth250kHz, Bandwidth500kHz,
	}
	codingRates = []CodingRate{
		Coding4_5, Coding4_6, Coding4_7, Coding4_8,
	}
	spreadingFactors = []SpreadingFactor{
		SpreadingFactor128, SpreadingFactor256, SpreadingFactor512,
		SpreadingFactor1024, SpreadingFactor2048, SpreadingFactor4096,
	}
)

// Bandwidths returns every bandwidth tag in sweep order.
func Bandwidths() []Bandwidth { return slices.Clone(bandwidths) }

// CodingRates returns every coding rate tag in sweep order.
func CodingRates() []CodingRate { return slices.Clone(codingRates) }

// SpreadingFactors returns every spreading factor tag in sweep order.
func SpreadingFactors() []SpreadingFactor { return slices.Clone(spreadingFactors) }

func (b Bandwidth) Valid() bool       { return slices.Contains(bandwidths, b) }
func (c CodingRate) Valid() bool      { return slices.Contains(codingRates, c) }
func (s SpreadingFactor) Valid() bool { return slices.Contains(spreadingFactors, s) }

// Parameters is the radio parameter triple varied between trials.
type Parameters struct {
	Bandwidth       Bandwidth       `json:"bandwidth" yaml:"bandwidth"`
	CodingRate      CodingRate      `json:"coding_rate" yaml:"coding_rate"`
	SpreadingFactor SpreadingFactor `json:"spreading_factor" yaml:"spreading_factor"`
}

// ParseParameters builds a triple from raw tags, rejecting anything outside the enumerations.
func ParseParameters(bandwidth, codingRate, spreadingFactor string) (Parameters, error) {
	p := Parameters{
		Bandwidth:       Bandwidth(bandwidth),
		CodingRate:      CodingRate(codingRate),
		SpreadingFactor: SpreadingFactor(spreadingFactor),
	}
	if err := p.Validate(); err != nil {
		return Parameters{}, err
	}
	return p, nil
}

// Validate reports the first tag that does not belong to its enumeration.
func (p Parameters) Validate() error {
	if !p.Bandwidth.Valid() {
		return fmt.Errorf("unknown bandwidth %q", p.Bandwidth)
	}
	if !p.CodingRate.Valid() {
		return fmt.Errorf("unknown coding rate %q", p.CodingRate)
	}
	if !p.SpreadingFactor.Valid() {
		return fmt.Errorf("unknown spreading factor %q", p.SpreadingFactor)
	}
	return nil
}

func (p Parameters) String() string {
	return fmt.Sprintf("%s, %s, %s", p.Bandwidth, p.CodingRate, p.SpreadingFactor)
}

// Role identifies which side of the link a process plays.
type Role string

const (
	RoleTransmit Role = "transmit"
	RoleReceive  Role = "receive"
)

// Mode returns the mode tag the link program expects for the role.
func (r Role) Mode() string {
	if r == RoleTransmit {
		return "TX"
	}
	return "RX"
}

// ConfigBaseName is the file stem of the role's configuration document.
func (r Role) ConfigBaseName() string {
	if r == RoleTransmit {
		return "tx_conf"
	}
	return "rx_conf"
}
