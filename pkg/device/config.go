package device

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/shimmeringbee/zigbee"
	"golang.org/x/crypto/hkdf"
	"gopkg.in/yaml.v3"
)

// Channel limits of the 2.4 GHz 802.15.4 band.
const (
	MinChannel = 11
	MaxChannel = 26
)

// KeySize is the length of a GPD security key.
const KeySize = 16

// Configuration errors.
var (
	ErrInvalidConfig = errors.New("invalid device configuration")
)

// defaultKey is the well-known "ZigBeeAlliance09" link key.
const defaultKey = "5a6967426565416c6c69616e63653039"

// Config is the device configuration. It replaces the build-time switches of
// a firmware image and is validated once at startup.
type Config struct {
	ApplicationID uint8  `yaml:"application_id"`
	SourceID      uint32 `yaml:"source_id"`
	IEEEAddress   uint64 `yaml:"ieee_address"`
	Endpoint      uint8  `yaml:"endpoint"`

	SecurityLevel SecurityLevel `yaml:"security_level"`
	KeyType       KeyType       `yaml:"key_type"`

	// Key is the hex encoded 16 byte key. When empty and KeySeed is set the
	// key is derived from the seed and the device address.
	Key     string `yaml:"key"`
	KeySeed string `yaml:"key_seed"`

	// OfferKey includes the device key in the commissioning request,
	// EncryptKey wraps it under the current key first, GenerateKey replaces
	// an all-zero key with one drawn from radio entropy.
	OfferKey    bool `yaml:"offer_key"`
	EncryptKey  bool `yaml:"encrypt_key"`
	GenerateKey bool `yaml:"generate_key"`
	RequestKey  bool `yaml:"request_key"`

	Channels    []uint8 `yaml:"channels"`
	RxChannel   uint8   `yaml:"rx_channel"`
	MinRxWindow uint8   `yaml:"min_rx_window"`
	RxAfterTx   bool    `yaml:"rx_after_tx"`
	SkipCCA     bool    `yaml:"skip_cca"`

	Bidirectional          bool `yaml:"bidirectional"`
	ApplicationDescription bool `yaml:"application_description"`

	DeviceID         uint8 `yaml:"device_id"`
	MACSeqCapability bool  `yaml:"mac_seq_capability"`
	PANIDRequest     bool  `yaml:"pan_id_request"`
	FixedLocation    bool  `yaml:"fixed_location"`

	ApplicationInfo ApplicationInfo `yaml:"application_info"`

	ChannelRequestRepeats int `yaml:"channel_request_repeats"`
	RxChannelRetries      int `yaml:"rx_channel_retries"`
	CommissioningRetries  int `yaml:"commissioning_retries"`
	CommissioningRounds   int `yaml:"commissioning_rounds"`
}

// ApplicationInfo describes the optional application information block of
// the commissioning request. Zero IDs and empty lists are omitted.
type ApplicationInfo struct {
	ManufacturerID uint16   `yaml:"manufacturer_id"`
	ModelID        uint16   `yaml:"model_id"`
	Commands       []uint8  `yaml:"commands"`
	ServerClusters []uint16 `yaml:"server_clusters"`
	ClientClusters []uint16 `yaml:"client_clusters"`
	SwitchInfo     bool     `yaml:"switch_info"`
	SwitchConfig   uint8    `yaml:"switch_config"`
}

// Present reports whether any application information is configured.
func (a *ApplicationInfo) Present() bool {
	return a.ManufacturerID != 0 || a.ModelID != 0 || len(a.Commands) > 0 ||
		len(a.ServerClusters) > 0 || len(a.ClientClusters) > 0 || a.SwitchInfo
}

// DefaultConfig returns a bidirectional source-ID device on channel 11.
func DefaultConfig() *Config {
	channels := make([]uint8, 0, MaxChannel-MinChannel+1)
	for ch := uint8(MinChannel); ch <= MaxChannel; ch++ {
		channels = append(channels, ch)
	}
	return &Config{
		ApplicationID:         uint8(AppIDSourceID),
		SourceID:              0x87654321,
		SecurityLevel:         SecurityEncrypted,
		KeyType:               KeyTypeOutOfBand,
		Key:                   defaultKey,
		Channels:              channels,
		RxChannel:             MinChannel,
		MinRxWindow:           0x0a,
		RxAfterTx:             true,
		Bidirectional:         true,
		DeviceID:              0x02,
		MACSeqCapability:      true,
		ChannelRequestRepeats: 2,
		RxChannelRetries:      5,
		CommissioningRetries:  3,
		CommissioningRounds:   2,
	}
}

// LoadConfig reads a YAML configuration file on top of DefaultConfig and
// validates the result.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadConfig(f)
}

// ReadConfig decodes a YAML configuration on top of DefaultConfig.
func ReadConfig(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.NewDecoder(r).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch AppID(c.ApplicationID) {
	case AppIDSourceID:
		if c.SourceID == 0 || c.SourceID >= 0xfffffff9 {
			return fmt.Errorf("%w: source id 0x%08x is reserved", ErrInvalidConfig, c.SourceID)
		}
	case AppIDIEEE:
		if zigbee.IEEEAddress(c.IEEEAddress) == zigbee.EmptyIEEEAddress {
			return fmt.Errorf("%w: ieee address must be set", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unsupported application id %d", ErrInvalidConfig, c.ApplicationID)
	}
	if !c.SecurityLevel.Valid() {
		return fmt.Errorf("%w: security level %d", ErrInvalidConfig, c.SecurityLevel)
	}
	if !c.KeyType.Valid() {
		return fmt.Errorf("%w: key type %d", ErrInvalidConfig, c.KeyType)
	}
	if c.Key != "" {
		k, err := hex.DecodeString(c.Key)
		if err != nil || len(k) != KeySize {
			return fmt.Errorf("%w: key must be %d hex encoded bytes", ErrInvalidConfig, KeySize)
		}
	}
	if len(c.Channels) == 0 {
		return fmt.Errorf("%w: no channels configured", ErrInvalidConfig)
	}
	for _, ch := range c.Channels {
		if ch < MinChannel || ch > MaxChannel {
			return fmt.Errorf("%w: channel %d out of range", ErrInvalidConfig, ch)
		}
	}
	if c.RxChannel < MinChannel || c.RxChannel > MaxChannel {
		return fmt.Errorf("%w: rx channel %d out of range", ErrInvalidConfig, c.RxChannel)
	}
	if c.ChannelRequestRepeats < 1 || c.RxChannelRetries < 1 || c.CommissioningRetries < 1 || c.CommissioningRounds < 1 {
		return fmt.Errorf("%w: retry budgets must be positive", ErrInvalidConfig)
	}
	return nil
}

// Address returns the configured device address.
func (c *Config) Address() Address {
	return Address{
		AppID:    AppID(c.ApplicationID),
		SourceID: c.SourceID,
		IEEE:     zigbee.IEEEAddress(c.IEEEAddress),
		Endpoint: zigbee.Endpoint(c.Endpoint),
	}
}

// ResolveKey returns the configured key. A key seed is expanded with
// HKDF-SHA256 salted with the device address.
func (c *Config) ResolveKey() (Key, error) {
	var key Key
	switch {
	case c.Key != "":
		b, err := hex.DecodeString(c.Key)
		if err != nil || len(b) != KeySize {
			return key, fmt.Errorf("%w: bad key", ErrInvalidConfig)
		}
		copy(key[:], b)
	case c.KeySeed != "":
		r := hkdf.New(sha256.New, []byte(c.KeySeed), c.Address().Bytes(), []byte("GPD out-of-band key"))
		if _, err := io.ReadFull(r, key[:]); err != nil {
			return key, fmt.Errorf("%w: key derivation: %v", ErrInvalidConfig, err)
		}
	}
	return key, nil
}
