package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lianghu1024/agentgate"
	"github.com/lianghu1024/agentgate/protocol"
)

type configSource string

const (
	sourceDefault configSource = "default"
	sourceFile    configSource = "file"
	sourceEnv     configSource = "env"
	sourceFlag    configSource = "flag"
)

// yamlConfig loads the YAML file into a map and reads values through
// typed getters, supporting hierarchical keys like "server.addr".
type yamlConfig struct {
	data map[string]interface{}
}

func readYAMLConfigFile(path string) (*yamlConfig, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fd.Close()

	b, err := io.ReadAll(fd)
	if err != nil {
		return nil, err
	}

	data := make(map[string]interface{})
	if err := yaml.Unmarshal(b, &data); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &yamlConfig{data: data}, nil
}

func (yc *yamlConfig) get(path string) (interface{}, bool) {
	if yc == nil || path == "" {
		return nil, false
	}

	parts := strings.Split(path, ".")
	var cur interface{} = yc.data
	for _, p := range parts {
		switch m := cur.(type) {
		case map[string]interface{}:
			v, ok := m[p]
			if !ok {
				return nil, false
			}
			cur = v
		case map[interface{}]interface{}:
			v, ok := m[p]
			if !ok {
				return nil, false
			}
			cur = v
		default:
			return nil, false
		}
	}
	return cur, true
}

func (yc *yamlConfig) getString(path string) (string, bool, error) {
	v, ok := yc.get(path)
	if !ok {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", true, fmt.Errorf("yaml %s must be string", path)
	}
	if s == "" {
		return "", true, fmt.Errorf("yaml %s is empty", path)
	}
	return s, true, nil
}

func (yc *yamlConfig) getDuration(path string) (time.Duration, bool, error) {
	s, ok, err := yc.getString(path)
	if err != nil || !ok {
		return 0, ok, err
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, true, fmt.Errorf("yaml %s invalid duration: %w", path, err)
	}
	return d, true, nil
}

func (yc *yamlConfig) getInt(path string) (int, bool, error) {
	v, ok := yc.get(path)
	if !ok {
		return 0, false, nil
	}
	switch n := v.(type) {
	case int:
		return n, true, nil
	case int64:
		return int(n), true, nil
	case float64:
		return int(n), true, nil
	default:
		return 0, true, fmt.Errorf("yaml %s must be integer", path)
	}
}

func (yc *yamlConfig) getFloat(path string) (float64, bool, error) {
	v, ok := yc.get(path)
	if !ok {
		return 0, false, nil
	}
	switch n := v.(type) {
	case int:
		return float64(n), true, nil
	case int64:
		return float64(n), true, nil
	case float64:
		return n, true, nil
	default:
		return 0, true, fmt.Errorf("yaml %s must be number", path)
	}
}

// seedToken is a dev credential seeded into the in-memory store at boot.
// Only read from the YAML file; production deployments use Redis.
type seedToken struct {
	ID     string   `yaml:"id"`
	Secret string   `yaml:"secret"`
	Scopes []string `yaml:"scopes"`
	TTL    string   `yaml:"ttl"`
}

type serverConfig struct {
	addr              string
	maxFrame          int
	maxPayload        int
	heartbeatInterval time.Duration
	idleTimeout       time.Duration
	writeTimeout      time.Duration
	rateCapacity      float64
	rateRefill        float64
	sessionMaxIdle    time.Duration
	redisAddr         string
	metricsAddr       string
	wsAddr            string
	seedTokens        []seedToken

	addrSource         configSource
	idleTimeoutSource  configSource
	writeTimeoutSource configSource
	redisAddrSource    configSource

	dotenvPath   string
	dotenvLoaded bool

	configPath   string
	configLoaded bool
}

func loadConfig() (serverConfig, error) {
	resolved, err := resolveYAML(os.Args[1:])
	if err != nil {
		return serverConfig{}, err
	}

	dotenvPath, dotenvLoaded := loadDotenv(".env")

	fileVals, err := readFileValues(resolved.yc)
	if err != nil {
		return serverConfig{}, err
	}

	envVals, err := readEnvValues()
	if err != nil {
		return serverConfig{}, err
	}

	d := computeDefaults(fileVals, envVals)

	fs := flag.NewFlagSet(filepath.Base(os.Args[0]), flag.ExitOnError)
	config := fs.String("config", resolved.path, "path to YAML config file")
	addr := fs.String("addr", d.addr, "listen address")
	maxFrame := fs.Int("max-frame", d.maxFrame, "maximum inbound frame size in bytes")
	maxPayload := fs.Int("max-payload", d.maxPayload, "maximum request data size in bytes")
	heartbeat := fs.Duration("heartbeat-interval", d.heartbeatInterval, "heartbeat interval advertised in HELLO")
	idleTimeout := fs.Duration("idle-timeout", d.idleTimeout, "connection idle timeout (0 to disable)")
	writeTimeout := fs.Duration("write-timeout", d.writeTimeout, "response write timeout (0 to disable)")
	rateCapacity := fs.Float64("rate-capacity", d.rateCapacity, "per-connection token bucket capacity (0 to disable)")
	rateRefill := fs.Float64("rate-refill", d.rateRefill, "per-connection bucket refill per second")
	sessionMaxIdle := fs.Duration("session-max-idle", d.sessionMaxIdle, "idle session lifetime")
	redisAddr := fs.String("redis-addr", d.redisAddr, "Redis address for the token store (empty for in-memory)")
	metricsAddr := fs.String("metrics-addr", d.metricsAddr, "Prometheus /metrics listen address (empty to disable)")
	wsAddr := fs.String("ws-addr", d.wsAddr, "WebSocket listen address (empty to disable)")
	_ = fs.Parse(os.Args[1:])

	flagSetFlags := visitedFlags(fs)

	finalConfigPath := *config
	if abs, err := filepath.Abs(finalConfigPath); err == nil {
		finalConfigPath = abs
	}

	return serverConfig{
		addr:              *addr,
		maxFrame:          *maxFrame,
		maxPayload:        *maxPayload,
		heartbeatInterval: *heartbeat,
		idleTimeout:       *idleTimeout,
		writeTimeout:      *writeTimeout,
		rateCapacity:      *rateCapacity,
		rateRefill:        *rateRefill,
		sessionMaxIdle:    *sessionMaxIdle,
		redisAddr:         *redisAddr,
		metricsAddr:       *metricsAddr,
		wsAddr:            *wsAddr,
		seedTokens:        fileVals.seedTokens,
		addrSource:        pickSource(isFlagSet("addr", flagSetFlags), envVals.addrOK, fileVals.addrOK),
		idleTimeoutSource: pickSource(
			isFlagSet("idle-timeout", flagSetFlags),
			envVals.idleTimeoutOK,
			fileVals.idleTimeoutOK,
		),
		writeTimeoutSource: pickSource(
			isFlagSet("write-timeout", flagSetFlags),
			envVals.writeTimeoutOK,
			fileVals.writeTimeoutOK,
		),
		redisAddrSource: pickSource(
			isFlagSet("redis-addr", flagSetFlags),
			envVals.redisAddrOK,
			fileVals.redisAddrOK,
		),
		dotenvPath:   dotenvPath,
		dotenvLoaded: dotenvLoaded,
		configPath:   finalConfigPath,
		configLoaded: resolved.loaded,
	}, nil
}

func (c serverConfig) serverOptions() []agentgate.Option {
	return []agentgate.Option{
		agentgate.WithAddr(c.addr),
		agentgate.WithMaxFrame(c.maxFrame),
		agentgate.WithMaxPayload(c.maxPayload),
		agentgate.WithHeartbeatInterval(c.heartbeatInterval),
		agentgate.WithIdleTimeout(c.idleTimeout),
		agentgate.WithWriteTimeout(c.writeTimeout),
		agentgate.WithRateLimit(c.rateCapacity, c.rateRefill),
		agentgate.WithSessionMaxIdle(c.sessionMaxIdle),
	}
}

func isFlagSet(name string, set map[string]bool) bool {
	return set != nil && set[name]
}

type resolvedYAML struct {
	yc     *yamlConfig
	path   string
	loaded bool
}

func resolveYAML(args []string) (resolvedYAML, error) {
	defaultConfigPath := "agentgate.yaml"
	configPath, configExplicit := parseConfigPath(args, defaultConfigPath)
	if configPath == "" {
		configPath = defaultConfigPath
	}
	if abs, err := filepath.Abs(configPath); err == nil {
		configPath = abs
	}

	yc, err := readYAMLConfigFile(configPath)
	if err == nil {
		return resolvedYAML{yc: yc, path: configPath, loaded: true}, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		if configExplicit {
			return resolvedYAML{}, err
		}
		// Missing default config is OK.
		return resolvedYAML{yc: nil, path: configPath, loaded: false}, nil
	}
	return resolvedYAML{}, err
}

func loadDotenv(path string) (string, bool) {
	if path == "" {
		return "", false
	}
	if err := godotenv.Load(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("load %s error: %v", path, err)
		}
		return path, false
	}
	return path, true
}

type fileValues struct {
	addr              string
	maxFrame          int
	maxPayload        int
	heartbeatInterval time.Duration
	idleTimeout       time.Duration
	writeTimeout      time.Duration
	rateCapacity      float64
	rateRefill        float64
	sessionMaxIdle    time.Duration
	redisAddr         string
	metricsAddr       string
	wsAddr            string
	seedTokens        []seedToken

	addrOK              bool
	maxFrameOK          bool
	maxPayloadOK        bool
	heartbeatIntervalOK bool
	idleTimeoutOK       bool
	writeTimeoutOK      bool
	rateCapacityOK      bool
	rateRefillOK        bool
	sessionMaxIdleOK    bool
	redisAddrOK         bool
	metricsAddrOK       bool
	wsAddrOK            bool
}

func readFileValues(yc *yamlConfig) (fileValues, error) {
	var vals fileValues
	var err error

	if vals.addr, vals.addrOK, err = yc.getString("server.addr"); err != nil {
		return fileValues{}, err
	}
	if vals.maxFrame, vals.maxFrameOK, err = yc.getInt("limits.max_frame"); err != nil {
		return fileValues{}, err
	}
	if vals.maxPayload, vals.maxPayloadOK, err = yc.getInt("limits.max_payload"); err != nil {
		return fileValues{}, err
	}
	if vals.heartbeatInterval, vals.heartbeatIntervalOK, err = yc.getDuration("timeouts.heartbeat"); err != nil {
		return fileValues{}, err
	}
	if vals.idleTimeout, vals.idleTimeoutOK, err = yc.getDuration("timeouts.idle"); err != nil {
		return fileValues{}, err
	}
	if vals.writeTimeout, vals.writeTimeoutOK, err = yc.getDuration("timeouts.write"); err != nil {
		return fileValues{}, err
	}
	if vals.rateCapacity, vals.rateCapacityOK, err = yc.getFloat("ratelimit.capacity"); err != nil {
		return fileValues{}, err
	}
	if vals.rateRefill, vals.rateRefillOK, err = yc.getFloat("ratelimit.refill_per_second"); err != nil {
		return fileValues{}, err
	}
	if vals.sessionMaxIdle, vals.sessionMaxIdleOK, err = yc.getDuration("sessions.max_idle"); err != nil {
		return fileValues{}, err
	}
	if vals.redisAddr, vals.redisAddrOK, err = yc.getString("auth.redis_addr"); err != nil {
		return fileValues{}, err
	}
	if vals.metricsAddr, vals.metricsAddrOK, err = yc.getString("metrics.addr"); err != nil {
		return fileValues{}, err
	}
	if vals.wsAddr, vals.wsAddrOK, err = yc.getString("websocket.addr"); err != nil {
		return fileValues{}, err
	}
	vals.seedTokens, err = readSeedTokens(yc)
	if err != nil {
		return fileValues{}, err
	}
	return vals, nil
}

func readSeedTokens(yc *yamlConfig) ([]seedToken, error) {
	v, ok := yc.get("auth.seed_tokens")
	if !ok {
		return nil, nil
	}
	// Round-trip through yaml to decode the list into the typed form.
	raw, err := yaml.Marshal(v)
	if err != nil {
		return nil, err
	}
	var tokens []seedToken
	if err := yaml.Unmarshal(raw, &tokens); err != nil {
		return nil, fmt.Errorf("yaml auth.seed_tokens: %w", err)
	}
	for i, t := range tokens {
		if t.ID == "" || t.Secret == "" {
			return nil, fmt.Errorf("yaml auth.seed_tokens[%d]: id and secret are required", i)
		}
	}
	return tokens, nil
}

type envValues struct {
	addr           string
	idleTimeout    time.Duration
	writeTimeout   time.Duration
	rateCapacity   float64
	rateRefill     float64
	redisAddr      string
	metricsAddr    string
	addrOK         bool
	idleTimeoutOK  bool
	writeTimeoutOK bool
	rateCapacityOK bool
	rateRefillOK   bool
	redisAddrOK    bool
	metricsAddrOK  bool
}

func readEnvValues() (envValues, error) {
	var vals envValues
	var err error

	if vals.addr, vals.addrOK, err = getenvStringStrict("AGENTGATE_ADDR"); err != nil {
		return envValues{}, err
	}
	if vals.idleTimeout, vals.idleTimeoutOK, err = getenvDurationStrict("AGENTGATE_IDLE_TIMEOUT"); err != nil {
		return envValues{}, err
	}
	if vals.writeTimeout, vals.writeTimeoutOK, err = getenvDurationStrict("AGENTGATE_WRITE_TIMEOUT"); err != nil {
		return envValues{}, err
	}
	if vals.rateCapacity, vals.rateCapacityOK, err = getenvFloatStrict("AGENTGATE_RATE_CAPACITY"); err != nil {
		return envValues{}, err
	}
	if vals.rateRefill, vals.rateRefillOK, err = getenvFloatStrict("AGENTGATE_RATE_REFILL"); err != nil {
		return envValues{}, err
	}
	if vals.redisAddr, vals.redisAddrOK, err = getenvStringStrict("AGENTGATE_REDIS_ADDR"); err != nil {
		return envValues{}, err
	}
	if vals.metricsAddr, vals.metricsAddrOK, err = getenvStringStrict("AGENTGATE_METRICS_ADDR"); err != nil {
		return envValues{}, err
	}
	return vals, nil
}

type defaults struct {
	addr              string
	maxFrame          int
	maxPayload        int
	heartbeatInterval time.Duration
	idleTimeout       time.Duration
	writeTimeout      time.Duration
	rateCapacity      float64
	rateRefill        float64
	sessionMaxIdle    time.Duration
	redisAddr         string
	metricsAddr       string
	wsAddr            string
}

func computeDefaults(fileVals fileValues, envVals envValues) defaults {
	d := defaults{
		addr:              agentgate.DefaultAddr,
		maxFrame:          protocol.DefaultMaxFrame,
		maxPayload:        protocol.DefaultMaxPayload,
		heartbeatInterval: agentgate.DefaultHeartbeatInterval,
		idleTimeout:       agentgate.DefaultIdleTimeout,
		writeTimeout:      agentgate.DefaultWriteTimeout,
		rateCapacity:      agentgate.DefaultRateCapacity,
		rateRefill:        agentgate.DefaultRateRefill,
		sessionMaxIdle:    agentgate.DefaultSessionMaxIdle,
	}

	if fileVals.addrOK {
		d.addr = fileVals.addr
	}
	if envVals.addrOK {
		d.addr = envVals.addr
	}
	if fileVals.maxFrameOK {
		d.maxFrame = fileVals.maxFrame
	}
	if fileVals.maxPayloadOK {
		d.maxPayload = fileVals.maxPayload
	}
	if fileVals.heartbeatIntervalOK {
		d.heartbeatInterval = fileVals.heartbeatInterval
	}
	if fileVals.idleTimeoutOK {
		d.idleTimeout = fileVals.idleTimeout
	}
	if envVals.idleTimeoutOK {
		d.idleTimeout = envVals.idleTimeout
	}
	if fileVals.writeTimeoutOK {
		d.writeTimeout = fileVals.writeTimeout
	}
	if envVals.writeTimeoutOK {
		d.writeTimeout = envVals.writeTimeout
	}
	if fileVals.rateCapacityOK {
		d.rateCapacity = fileVals.rateCapacity
	}
	if envVals.rateCapacityOK {
		d.rateCapacity = envVals.rateCapacity
	}
	if fileVals.rateRefillOK {
		d.rateRefill = fileVals.rateRefill
	}
	if envVals.rateRefillOK {
		d.rateRefill = envVals.rateRefill
	}
	if fileVals.sessionMaxIdleOK {
		d.sessionMaxIdle = fileVals.sessionMaxIdle
	}
	if fileVals.redisAddrOK {
		d.redisAddr = fileVals.redisAddr
	}
	if envVals.redisAddrOK {
		d.redisAddr = envVals.redisAddr
	}
	if fileVals.metricsAddrOK {
		d.metricsAddr = fileVals.metricsAddr
	}
	if envVals.metricsAddrOK {
		d.metricsAddr = envVals.metricsAddr
	}
	if fileVals.wsAddrOK {
		d.wsAddr = fileVals.wsAddr
	}
	return d
}

func visitedFlags(fs *flag.FlagSet) map[string]bool {
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	return set
}

func pickSource(flagSet bool, envOK bool, fileOK bool) configSource {
	if flagSet {
		return sourceFlag
	}
	if envOK {
		return sourceEnv
	}
	if fileOK {
		return sourceFile
	}
	return sourceDefault
}

func parseConfigPath(args []string, defaultValue string) (string, bool) {
	fs := flag.NewFlagSet("preconfig", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	config := fs.String("config", defaultValue, "path to YAML config file")
	_ = fs.Parse(args)
	explicit := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})
	return *config, explicit
}

func getenvStringStrict(key string) (string, bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false, nil
	}
	if v == "" {
		return "", true, fmt.Errorf("env %s is empty", key)
	}
	return v, true, nil
}

func getenvDurationStrict(key string) (time.Duration, bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return 0, false, nil
	}
	if v == "" {
		return 0, true, fmt.Errorf("env %s is empty", key)
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, true, fmt.Errorf("env %s invalid duration: %w", key, err)
	}
	return d, true, nil
}

func getenvFloatStrict(key string) (float64, bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return 0, false, nil
	}
	if v == "" {
		return 0, true, fmt.Errorf("env %s is empty", key)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, true, fmt.Errorf("env %s invalid number: %w", key, err)
	}
	return f, true, nil
}
