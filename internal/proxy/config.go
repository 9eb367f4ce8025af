package proxy

import (
	"fmt"
	"net"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/makalin/stpro/internal/relay"
	"github.com/makalin/stpro/internal/resolver"
)

// Config carries everything a Server needs. main assembles one from flags
// and the optional config file.
type Config struct {
	// NegotiationTimeout bounds the whole handshake, from the first byte to
	// the success reply.
	NegotiationTimeout time.Duration

	// Grace bounds how long the second relay direction may drain after the
	// first one finishes.
	Grace time.Duration

	// MaxConns caps concurrent sessions; 0 means unlimited.
	MaxConns int64

	KeepAlive net.KeepAliveConfig

	// Desync strategies for the client-to-destination direction. When all
	// three are empty the relay falls back to random fragmentation.
	Split    []relay.SplitSpec
	Disorder []relay.SplitSpec
	Fake     []relay.FakeSpec
	TTL      int

	Resolver *resolver.Resolver

	// Metrics may be nil, in which case nothing is recorded.
	Metrics *Metrics

	Log zerolog.Logger
}

// FileConfig mirrors the command line in a TOML file. Durations use Go
// syntax ("8s", "1m30s"); desync entries use the same
// offset[:repeats[:skip]][+flags] strings the flags take. Flags given
// explicitly on the command line win over file values.
type FileConfig struct {
	Listen             string   `toml:"listen"`
	MaxConns           int64    `toml:"max_conns"`
	DialTimeout        string   `toml:"dial_timeout"`
	NegotiationTimeout string   `toml:"negotiation_timeout"`
	Grace              string   `toml:"grace"`
	TCPKeepAlive       string   `toml:"tcp_keepalive"`
	DNS                string   `toml:"dns"`
	Split              []string `toml:"split"`
	Disorder           []string `toml:"disorder"`
	Fake               []string `toml:"fake"`
	FakeData           string   `toml:"fake_data"`
	TTL                int      `toml:"ttl"`
	LogLevel           string   `toml:"log_level"`
	DebugListen        string   `toml:"debug_listen"`
}

// LoadFileConfig decodes path into a FileConfig. Unknown keys are an error
// so typos do not silently fall back to defaults.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	meta, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return FileConfig{}, fmt.Errorf("config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return FileConfig{}, fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
	}
	return fc, nil
}
