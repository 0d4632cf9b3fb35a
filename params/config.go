package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ModeRoundRobin = "round-robin" // N nodes, chain-builder link digest
	ModeSolo       = "solo"        // one node, chain linked on block_hash
)

type Experiment struct {
	Rounds    int
	Nodes     int
	Trials    int
	Payloads  []int
	Algs      []string
	TagPrefix string
	DelayMin  time.Duration // propagation delay lower bound
	DelayMax  time.Duration // propagation delay upper bound
	Mode      string
	Seed      uint64 // 0 means seed from the clock
}

type Output struct {
	Dir     string // CSV output directory
	LogFile string
	WALFile string // empty disables the production journal
	Store   string // memory | pebble
}

type Node struct {
	Verbose bool
	APIAddr string // empty disables the inspection server
}

type Config struct {
	Experiment Experiment
	Output     Output
	Node       Node
}

func Default() Config {
	return Config{
		Experiment: Experiment{
			Rounds:    200,
			Nodes:     8,
			Trials:    3,
			Payloads:  []int{512, 2048},
			Algs:      []string{"sphincs-sim", "xmss-sim", "lms-sim"},
			TagPrefix: "EXP",
			DelayMin:  10 * time.Millisecond,
			DelayMax:  30 * time.Millisecond,
			Mode:      ModeRoundRobin,
		},
		Output: Output{
			Dir:     ".",
			LogFile: "data/hbsim.log",
			Store:   "memory",
		},
	}
}

// Validate rejects plans the runner cannot execute.
func (c Config) Validate() error {
	e := c.Experiment
	switch {
	case e.Rounds < 0:
		return fmt.Errorf("rounds must be >= 0, got %d", e.Rounds)
	case e.Nodes < 1:
		return fmt.Errorf("nodes must be >= 1, got %d", e.Nodes)
	case e.Trials < 1:
		return fmt.Errorf("trials must be >= 1, got %d", e.Trials)
	case len(e.Payloads) == 0:
		return fmt.Errorf("at least one payload size is required")
	case len(e.Algs) == 0:
		return fmt.Errorf("at least one algorithm is required")
	case e.DelayMin < 0 || e.DelayMax < e.DelayMin:
		return fmt.Errorf("invalid delay range [%s, %s]", e.DelayMin, e.DelayMax)
	case e.Mode != ModeRoundRobin && e.Mode != ModeSolo:
		return fmt.Errorf("unknown mode %q", e.Mode)
	}
	for _, p := range e.Payloads {
		if p < 0 {
			return fmt.Errorf("payload size must be >= 0, got %d", p)
		}
	}
	return nil
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	e := &cfg.Experiment
	setInt(&e.Rounds, "HBS_ROUNDS")
	setInt(&e.Nodes, "HBS_NODES")
	setInt(&e.Trials, "HBS_TRIALS")
	setMillis(&e.DelayMin, "HBS_DELAY_MIN_MS")
	setMillis(&e.DelayMax, "HBS_DELAY_MAX_MS")
	if v := os.Getenv("HBS_PAYLOADS"); v != "" {
		if ps, err := parseInts(v); err == nil {
			e.Payloads = ps
		}
	}
	if v := os.Getenv("HBS_ALGS"); v != "" {
		e.Algs = splitList(v)
	}
	e.TagPrefix = getEnv("HBS_TAG_PREFIX", e.TagPrefix)
	e.Mode = getEnv("HBS_MODE", e.Mode)
	if v := os.Getenv("HBS_SEED"); v != "" {
		if s, err := strconv.ParseUint(v, 10, 64); err == nil {
			e.Seed = s
		}
	}

	cfg.Output.Dir = getEnv("OUTPUT_DIR", cfg.Output.Dir)
	cfg.Output.LogFile = getEnv("LOG_FILE", cfg.Output.LogFile)
	cfg.Output.WALFile = getEnv("WAL_FILE", cfg.Output.WALFile)
	cfg.Output.Store = getEnv("STORE", cfg.Output.Store)

	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.Verbose = os.Getenv("VERBOSE") == "true"

	return cfg
}

// Plan is the YAML form of an experiment. Zero fields keep the current value.
type Plan struct {
	Rounds     int      `yaml:"rounds"`
	Nodes      int      `yaml:"nodes"`
	Trials     int      `yaml:"trials"`
	Payloads   []int    `yaml:"payloads"`
	Algs       []string `yaml:"algorithms"`
	TagPrefix  string   `yaml:"tag_prefix"`
	DelayMinMs *int     `yaml:"delay_min_ms"`
	DelayMaxMs *int     `yaml:"delay_max_ms"`
	Mode       string   `yaml:"mode"`
	Seed       uint64   `yaml:"seed"`
}

// LoadPlan overlays the YAML plan at path onto cfg.
func LoadPlan(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read plan: %w", err)
	}
	var p Plan
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("parse plan %s: %w", path, err)
	}
	p.Apply(&cfg.Experiment)
	return nil
}

func (p Plan) Apply(e *Experiment) {
	if p.Rounds > 0 {
		e.Rounds = p.Rounds
	}
	if p.Nodes > 0 {
		e.Nodes = p.Nodes
	}
	if p.Trials > 0 {
		e.Trials = p.Trials
	}
	if len(p.Payloads) > 0 {
		e.Payloads = p.Payloads
	}
	if len(p.Algs) > 0 {
		e.Algs = p.Algs
	}
	if p.TagPrefix != "" {
		e.TagPrefix = p.TagPrefix
	}
	if p.DelayMinMs != nil {
		e.DelayMin = time.Duration(*p.DelayMinMs) * time.Millisecond
	}
	if p.DelayMaxMs != nil {
		e.DelayMax = time.Duration(*p.DelayMaxMs) * time.Millisecond
	}
	if p.Mode != "" {
		e.Mode = p.Mode
	}
	if p.Seed != 0 {
		e.Seed = p.Seed
	}
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setMillis(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(ms) * time.Millisecond
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseInts(v string) ([]int, error) {
	var out []int
	for _, s := range splitList(v) {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
