package synth

import (
	"strconv"
	"strings"
)

// renderRON writes the document in Rust Object Notation with the
// indentation the link program's sample configs use.
func renderRON(doc Document) []byte {
	var b strings.Builder
	w := func(depth int, line string) {
		b.WriteString(strings.Repeat("    ", depth))
		b.WriteString(line)
		b.WriteByte('\n')
	}

	w(0, "Config(")
	w(1, "mqtt_config: MQTTConfig(")
	w(2, "ip: "+strconv.Quote(doc.MQTT.IP)+",")
	w(2, "port: "+strconv.Quote(doc.MQTT.Port)+",")
	w(2, "login: "+strconv.Quote(doc.MQTT.Login)+",")
	w(2, "password: "+strconv.Quote(doc.MQTT.Password)+",")
	if doc.MQTT.Enabled != nil {
		w(2, "topic: "+strconv.Quote(doc.MQTT.Topic)+",")
		w(2, "enabled: "+strconv.FormatBool(*doc.MQTT.Enabled))
	} else {
		w(2, "topic: "+strconv.Quote(doc.MQTT.Topic))
	}
	w(1, "),")

	lora := doc.LoRa
	w(1, "lora_config: LoRaConfig(")
	w(2, "mode: "+lora.Mode+",")
	w(2, "reset_gpio: "+lora.ResetGPIO+",")
	w(2, "dio0_gpio: "+lora.DIO0GPIO+",")
	w(2, "spi_config: SPIConfig(")
	w(3, "spidev_path: "+strconv.Quote(lora.SPI.SpidevPath)+",")
	w(3, "bits_per_word: "+strconv.Itoa(lora.SPI.BitsPerWord)+",")
	w(3, "max_speed_hz: "+strconv.Itoa(lora.SPI.MaxSpeedHz)+",")
	w(3, "lsb_first: "+strconv.FormatBool(lora.SPI.LSBFirst)+",")
	w(3, "spi_mode: "+lora.SPI.SPIMode+",")
	w(2, "),")
	w(2, "radio_config: RadioConfig(")
	if lora.Radio.Frequency != 0 {
		w(3, "frequency: "+strconv.FormatUint(lora.Radio.Frequency, 10)+",")
	}
	w(3, "bandwidth: "+string(lora.Radio.Bandwidth)+",")
	w(3, "coding_rate: "+string(lora.Radio.CodingRate)+",")
	w(3, "spreading_factor: "+string(lora.Radio.SpreadingFactor)+",")
	w(3, "tx_power: "+strconv.Itoa(lora.Radio.TxPower)+",")
	w(2, "),")
	w(1, "),")

	if bme := doc.BME; bme != nil {
		w(1, "bme_config: BME280Config(")
		w(2, "i2c_bus_path: "+strconv.Quote(bme.I2CBusPath)+",")
		w(2, "i2c_address: "+strconv.FormatUint(uint64(bme.I2CAddress), 10)+",")
		w(2, "measurement_interval: "+strconv.FormatUint(bme.MeasurementInterval, 10)+",")
		w(2, "enabled: "+strconv.FormatBool(bme.Enabled)+",")
		w(1, "),")
	}
	w(0, ")")

	return []byte(b.String())
}
