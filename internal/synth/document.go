package synth

import "github.com/pingsantohq/linkbench/pkg/types"

// Document is one role's configuration for the link program. Field order
// matches the order the link program declares them in.
type Document struct {
	MQTT MQTTSection `toml:"mqtt_config"`
	LoRa LoRaSection `toml:"lora_config"`
	BME  *BMESection `toml:"bme_config,omitempty"`
}

type MQTTSection struct {
	IP       string `toml:"ip"`
	Port     string `toml:"port"`
	Login    string `toml:"login"`
	Password string `toml:"password"`
	Topic    string `toml:"topic"`
	Enabled  *bool  `toml:"enabled,omitempty"`
}

type BMESection struct {
	I2CBusPath          string `toml:"i2c_bus_path"`
	I2CAddress          uint8  `toml:"i2c_address"`
	MeasurementInterval uint64 `toml:"measurement_interval"`
	Enabled             bool   `toml:"enabled"`
}

type LoRaSection struct {
	Mode      string       `toml:"mode"`
	ResetGPIO string       `toml:"reset_gpio"`
	DIO0GPIO  string       `toml:"dio0_gpio"`
	SPI       SPISection   `toml:"spi_config"`
	Radio     RadioSection `toml:"radio_config"`
}

type SPISection struct {
	SpidevPath  string `toml:"spidev_path"`
	BitsPerWord int    `toml:"bits_per_word"`
	MaxSpeedHz  int    `toml:"max_speed_hz"`
	LSBFirst    bool   `toml:"lsb_first"`
	SPIMode     string `toml:"spi_mode"`
}

// RadioSection is the tunable part of the document. Frequency is omitted when zero.
type RadioSection struct {
	Frequency       uint64                `toml:"frequency,omitempty"`
	Bandwidth       types.Bandwidth       `toml:"bandwidth"`
	CodingRate      types.CodingRate      `toml:"coding_rate"`
	SpreadingFactor types.SpreadingFactor `toml:"spreading_factor"`
	TxPower         int                   `toml:"tx_power"`
}

// Parameters returns the triple echoed in the radio section.
func (d Document) Parameters() types.Parameters {
	return types.Parameters{
		Bandwidth:       d.LoRa.Radio.Bandwidth,
		CodingRate:      d.LoRa.Radio.CodingRate,
		SpreadingFactor: d.LoRa.Radio.SpreadingFactor,
	}
}
