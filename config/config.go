// Package config loads the engine's tunable knobs (spec.md §6) from TOML.
package config

import (
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds every tunable knob spec.md §6 enumerates.
type Config struct {
	MaxConns        int  `toml:"max_conns"`
	MaxSendRetries  int  `toml:"max_send_retries"`
	IPDMaxBuffSize  int  `toml:"ipd_max_buff_size"`
	ConnMaxDataLen  int  `toml:"conn_max_data_len"`
	AtPortBaudrate  int  `toml:"at_port_baudrate"`
	InputUseProcess bool `toml:"input_use_process"`
	ManualTCPRecv   bool `toml:"manual_tcp_receive"`
	ATEcho          bool `toml:"at_echo"`

	// CommandTimeout is the default per-Submit budget when the caller
	// passes 0 (spec.md §5, "each blocking submit carries a per-call
	// millisecond budget"). Not a wire knob, purely host-side policy.
	CommandTimeout time.Duration `toml:"-"`
}

// Default returns the configuration spec.md §6 lists as defaults.
func Default() *Config {
	return &Config{
		MaxConns:        5,
		MaxSendRetries:  3,
		IPDMaxBuffSize:  1460,
		ConnMaxDataLen:  2048,
		AtPortBaudrate:  115200,
		InputUseProcess: true,
		ManualTCPRecv:   false,
		ATEcho:          false,
		CommandTimeout:  5 * time.Second,
	}
}

// Load reads a TOML file, starting from Default() and overriding whatever
// keys are present.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.clamp()
	return cfg, nil
}

func (c *Config) clamp() {
	if c.MaxConns < 1 {
		c.MaxConns = 1
	}
	if c.MaxConns > 32 {
		c.MaxConns = 32
	}
	if c.MaxSendRetries < 0 {
		c.MaxSendRetries = 0
	}
	if c.ConnMaxDataLen <= 0 {
		c.ConnMaxDataLen = 2048
	}
	if c.ConnMaxDataLen > 2048 {
		c.ConnMaxDataLen = 2048 // device segment ceiling, spec.md §4.1
	}
}
