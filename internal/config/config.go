package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pingsantohq/linkbench/pkg/types"
)

const (
	envConfigPath = "LINKBENCH_CONFIG"

	DialectRON  = "ron"
	DialectTOML = "toml"

	DefaultSweepObservation = 100 * time.Millisecond
	DefaultTerminationGrace = 5 * time.Second
)

type Config struct {
	Link           LinkConfig           `yaml:"link"`
	Output         OutputConfig         `yaml:"output"`
	Run            RunConfig            `yaml:"run"`
	Infrastructure InfrastructureConfig `yaml:"infrastructure"`
	Radio          RadioConfig          `yaml:"radio"`
	Sweep          SweepConfig          `yaml:"sweep"`
	Stress         StressConfig         `yaml:"stress"`
	Markers        MarkerConfig         `yaml:"markers"`
}

// LinkConfig describes how the link program is fed and, optionally, verified.
type LinkConfig struct {
	ConfigDir     string `yaml:"config_dir"`
	Dialect       string `yaml:"dialect"`
	PublicKey     string `yaml:"public_key"`
	PublicKeyPath string `yaml:"public_key_path"`
	SignaturePath string `yaml:"signature_path"`
}

type OutputConfig struct {
	Dir string `yaml:"dir"`
}

type RunConfig struct {
	Observation      time.Duration `yaml:"observation"`
	TerminationGrace time.Duration `yaml:"termination_grace"`
	Cooldown         time.Duration `yaml:"cooldown"`
	MetricsAddr      string        `yaml:"metrics_addr"`
}

type InfrastructureConfig struct {
	MQTT     MQTTConfig `yaml:"mqtt"`
	SPI      SPIConfig  `yaml:"spi"`
	Transmit PinConfig  `yaml:"transmit"`
	Receive  PinConfig  `yaml:"receive"`

	// BME is the weather sensor block. Set it to null for link builds that
	// predate the sensor.
	BME *BMEConfig `yaml:"bme"`
}

type MQTTConfig struct {
	IP       string `yaml:"ip"`
	Port     string `yaml:"port"`
	Login    string `yaml:"login"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	Enabled  *bool  `yaml:"enabled"`
}

type BMEConfig struct {
	I2CBusPath          string `yaml:"i2c_bus_path"`
	I2CAddress          uint8  `yaml:"i2c_address"`
	MeasurementInterval uint64 `yaml:"measurement_interval"`
	Enabled             bool   `yaml:"enabled"`
}

type SPIConfig struct {
	BitsPerWord int    `yaml:"bits_per_word"`
	MaxSpeedHz  int    `yaml:"max_speed_hz"`
	LSBFirst    bool   `yaml:"lsb_first"`
	Mode        string `yaml:"mode"`
}

// PinConfig holds the identifiers that differ between the two roles.
type PinConfig struct {
	SpidevPath string `yaml:"spidev_path"`
	ResetGPIO  string `yaml:"reset_gpio"`
	DIO0GPIO   string `yaml:"dio0_gpio"`
}

type RadioConfig struct {
	TxPower   int    `yaml:"tx_power"`
	Frequency uint64 `yaml:"frequency"`
}

type SweepConfig struct {
	Bandwidths       []types.Bandwidth       `yaml:"bandwidths"`
	CodingRates      []types.CodingRate      `yaml:"coding_rates"`
	SpreadingFactors []types.SpreadingFactor `yaml:"spreading_factors"`
}

type StressConfig struct {
	Parameters types.Parameters `yaml:"parameters"`
}

type MarkerConfig struct {
	Sent     string `yaml:"sent"`
	Received string `yaml:"received"`
	CRCError string `yaml:"crc_error"`
}

// Default mirrors the bench the harness was first written for.
func Default() Config {
	mqttEnabled := true
	return Config{
		Link: LinkConfig{
			ConfigDir: ".",
			Dialect:   DialectRON,
		},
		Output: OutputConfig{Dir: "./tmp"},
		Run: RunConfig{
			Observation:      DefaultSweepObservation,
			TerminationGrace: DefaultTerminationGrace,
		},
		Infrastructure: InfrastructureConfig{
			MQTT: MQTTConfig{
				IP:       "192.168.6.2",
				Port:     "1234",
				Login:    "admin",
				Password: "verysecurepassword",
				Topic:    "lora/sensor",
				Enabled:  &mqttEnabled,
			},
			SPI: SPIConfig{
				BitsPerWord: 8,
				MaxSpeedHz:  500000,
				Mode:        "SPI_MODE_0",
			},
			Transmit: PinConfig{SpidevPath: "/dev/spidev0.0", ResetGPIO: "GPIO_66", DIO0GPIO: "GPIO_69"},
			Receive:  PinConfig{SpidevPath: "/dev/spidev1.0", ResetGPIO: "GPIO_67", DIO0GPIO: "GPIO_68"},
			BME: &BMEConfig{
				I2CBusPath:          "/dev/i2c-2",
				I2CAddress:          0x76,
				MeasurementInterval: 60,
			},
		},
		Radio: RadioConfig{
			TxPower:   17,
			Frequency: 433_000_000,
		},
		Sweep: SweepConfig{
			Bandwidths:       types.Bandwidths(),
			CodingRates:      types.CodingRates(),
			SpreadingFactors: types.SpreadingFactors(),
		},
		Stress: StressConfig{
			Parameters: types.Parameters{
				Bandwidth:       types.Bandwidth125kHz,
				CodingRate:      types.Coding4_5,
				SpreadingFactor: types.SpreadingFactor4096,
			},
		},
		Markers: MarkerConfig{
			Sent:     "Packet sent.",
			Received: "Received",
			CRCError: "CRC Error",
		},
	}
}

// Load overlays the YAML document at path on top of Default and validates the result.
func Load(ctx context.Context, path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %q: %w", path, err)
	}

	return cfg, nil
}

// LoadFromEnv loads the file named by LINKBENCH_CONFIG, or returns Default when unset.
func LoadFromEnv(ctx context.Context) (Config, error) {
	path := os.Getenv(envConfigPath)
	if path == "" {
		return Default(), nil
	}
	return Load(ctx, path)
}

// Resolve picks an explicit path over the environment.
func Resolve(ctx context.Context, path string) (Config, error) {
	if path != "" {
		return Load(ctx, path)
	}
	return LoadFromEnv(ctx)
}

func (c Config) Validate() error {
	switch c.Link.Dialect {
	case DialectRON, DialectTOML:
	default:
		return fmt.Errorf("unsupported dialect %q (want %q or %q)", c.Link.Dialect, DialectRON, DialectTOML)
	}
	if c.Output.Dir == "" {
		return errors.New("output dir must be set")
	}
	if c.Run.Observation < 0 {
		return fmt.Errorf("observation must not be negative, got %s", c.Run.Observation)
	}
	if len(c.Sweep.Bandwidths) == 0 || len(c.Sweep.CodingRates) == 0 || len(c.Sweep.SpreadingFactors) == 0 {
		return errors.New("sweep domain must name at least one value per dimension")
	}
	for _, bw := range c.Sweep.Bandwidths {
		if !bw.Valid() {
			return fmt.Errorf("sweep: unknown bandwidth %q", bw)
		}
	}
	for _, cr := range c.Sweep.CodingRates {
		if !cr.Valid() {
			return fmt.Errorf("sweep: unknown coding rate %q", cr)
		}
	}
	for _, sf := range c.Sweep.SpreadingFactors {
		if !sf.Valid() {
			return fmt.Errorf("sweep: unknown spreading factor %q", sf)
		}
	}
	if err := c.Stress.Parameters.Validate(); err != nil {
		return fmt.Errorf("stress: %w", err)
	}
	if c.Link.SignaturePath != "" && c.Link.PublicKey == "" && c.Link.PublicKeyPath == "" {
		return errors.New("link signature_path requires public_key or public_key_path")
	}
	return nil
}

// Grace returns the termination grace period, falling back to the default.
func (r RunConfig) Grace() time.Duration {
	if r.TerminationGrace <= 0 {
		return DefaultTerminationGrace
	}
	return r.TerminationGrace
}

// Extension is the file extension for documents in the configured dialect.
func (l LinkConfig) Extension() string {
	if l.Dialect == DialectTOML {
		return ".toml"
	}
	return ".ron"
}
