package fixture

import (
	"slices"

	"esfixture/pkg/settings"
	"esfixture/pkg/transport"
)

type Kind int

const (
	KindNode Kind = iota + 1
	KindClient
	KindNodeClient
)

func (k Kind) String() string {
	switch k {
	case KindNode:
		return "node"
	case KindClient:
		return "client"
	case KindNodeClient:
		return "node-client"
	default:
		return "unknown"
	}
}

// Config declares a fixture. Build it with NodeConfig, ClientConfig or
// NodeClientConfig.
type Config struct {
	Kind        Kind
	Name        string
	ClusterName string
	// Data is false for nodes that must not hold shards.
	Data bool
	// Local nodes bind no sockets and are only reachable in-process.
	Local    bool
	Settings []settings.Setting
	File     string

	// Addresses of the nodes a remote client connects to.
	Addresses []transport.Address
	// Node is the embedded node a node client is bound to.
	Node string
}

type Option func(*Config)

func WithCluster(name string) Option {
	return func(c *Config) {
		c.ClusterName = name
	}
}

func WithData(data bool) Option {
	return func(c *Config) {
		c.Data = data
	}
}

func WithLocal(local bool) Option {
	return func(c *Config) {
		c.Local = local
	}
}

// WithSetting adds an override. Later overrides of the same key win.
func WithSetting(key, value string) Option {
	return func(c *Config) {
		c.Settings = append(c.Settings, settings.Setting{Key: key, Value: value})
	}
}

func WithSettings(overrides ...settings.Setting) Option {
	return func(c *Config) {
		c.Settings = append(c.Settings, overrides...)
	}
}

// WithFile loads settings from a YAML, JSON or properties file.
func WithFile(path string) Option {
	return func(c *Config) {
		c.File = path
	}
}

func WithAddresses(addrs ...transport.Address) Option {
	return func(c *Config) {
		c.Addresses = append(c.Addresses, addrs...)
	}
}

func NodeConfig(name string, opts ...Option) Config {
	return newConfig(Config{Kind: KindNode, Name: name, Data: true}, opts)
}

// ClientConfig declares a remote transport client. Without addresses it
// targets localhost on the default transport port.
func ClientConfig(name string, opts ...Option) Config {
	cfg := newConfig(Config{Kind: KindClient, Name: name}, opts)
	if len(cfg.Addresses) == 0 {
		cfg.Addresses = []transport.Address{{Host: "localhost", Port: transport.DefaultPort}}
	}
	return cfg
}

// NodeClientConfig declares an in-process client of the embedded node
// named node. The node is created with defaults if nothing declared it
// before.
func NodeClientConfig(name, node string, opts ...Option) Config {
	return newConfig(Config{Kind: KindNodeClient, Name: name, Node: node}, opts)
}

func newConfig(cfg Config, opts []Option) Config {
	for _, o := range opts {
		o(&cfg)
	}
	cfg.Settings = slices.Clone(cfg.Settings)
	cfg.Addresses = slices.Clone(cfg.Addresses)
	return cfg
}
