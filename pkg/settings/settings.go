// Package settings holds flat, dotted key/value node settings and the
// layering rules used to build them.
package settings

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	NodeName          = "node.name"
	NodeData          = "node.data"
	NodeLocal         = "node.local"
	ClusterName       = "cluster.name"
	StoreType         = "index.store.type"
	GatewayType       = "gateway.type"
	NumberOfShards    = "index.number_of_shards"
	NumberOfReplicas  = "index.number_of_replicas"
	NetworkHost       = "network.host"
	HTTPEnabled       = "http.enabled"
	HTTPPort          = "http.port"
	GraphQLEnabled    = "http.graphql.enabled"
	TransportPort     = "transport.tcp.port"
	PathHome          = "path.home"
	PathData          = "path.data"
	PathWork          = "path.work"
	PathLogs          = "path.logs"
	RoutingSchedule   = "cluster.routing.schedule"
	TranslogSyncWrite = "index.translog.sync"
	LoggerLevel       = "logger.level"
)

// Setting is a single key/value override.
type Setting struct {
	Key   string
	Value string
}

type Settings map[string]string

func New() Settings {
	return make(Settings)
}

// Defaults are the lowest layer: an in-memory, non persistent, single shard
// node without replicas, reachable on ephemeral loopback ports.
func Defaults(home string) Settings {
	return Settings{
		StoreType:        "memory",
		GatewayType:      "none",
		NumberOfShards:   "1",
		NumberOfReplicas: "0",
		NetworkHost:      "127.0.0.1",
		HTTPEnabled:      "true",
		HTTPPort:         "0",
		GraphQLEnabled:   "false",
		TransportPort:    "0",
		NodeData:         "true",
		NodeLocal:        "false",
		RoutingSchedule:  "50ms",
		PathHome:         home,
	}
}

func (s Settings) Get(key string) string {
	return s[key]
}

func (s Settings) GetDefault(key, def string) string {
	if v, ok := s[key]; ok && v != "" {
		return v
	}
	return def
}

func (s Settings) Bool(key string, def bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(s[key]))
	if err != nil {
		return def
	}
	return v
}

func (s Settings) Int(key string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(s[key]))
	if err != nil {
		return def
	}
	return v
}

func (s Settings) Duration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(strings.TrimSpace(s[key]))
	if err != nil {
		return def
	}
	return v
}

// Put sets key and returns s for chaining.
func (s Settings) Put(key, value string) Settings {
	s[key] = value
	return s
}

// Merge copies other over s. Keys of other win.
func (s Settings) Merge(other Settings) Settings {
	for k, v := range other {
		s[k] = v
	}
	return s
}

func (s Settings) Clone() Settings {
	clone := make(Settings, len(s))
	for k, v := range s {
		clone[k] = v
	}
	return clone
}

func (s Settings) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Build layers defaults, the optional file and the overrides, in that order.
// The inputs are left untouched.
func Build(defaults Settings, file string, overrides []Setting) (Settings, error) {
	result := defaults.Clone()

	if file != "" {
		loaded, err := Load(file)
		if err != nil {
			return nil, err
		}
		result.Merge(loaded)
	}

	for _, o := range overrides {
		result[o.Key] = o.Value
	}

	return result, nil
}
