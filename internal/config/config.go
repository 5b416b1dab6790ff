// Package config loads and validates the SSHTunnels_config.xml document:
// global sleep timer and log sink, and one or more tunnel definitions with
// their argv/envp and heartbeat settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

// FileName is the configuration file's fixed basename.
const FileName = "SSHTunnels_config.xml"

// SearchPaths returns the ordered list of directories to search, given the
// install prefix (e.g. "/usr/local").
func SearchPaths(prefix string) []string {
	paths := []string{"."}
	if prefix != "" {
		paths = append(paths, filepath.Join(prefix, "etc"))
	}
	paths = append(paths, "/etc")
	return paths
}

// Find locates SSHTunnels_config.xml along SearchPaths, returning the first
// existing match.
func Find(prefix string) (string, error) {
	for _, dir := range SearchPaths(prefix) {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("config: %s not found in any of %v", FileName, SearchPaths(prefix))
}

// TunnelSpec is one <Tunnel> element's fully resolved settings.
type TunnelSpec struct {
	UpTokenEnabled  bool
	UpTokenInterval int // seconds, already normalized against SleepTimer
	Argv            []string
	Envp            []string
}

// Config is the fully parsed and validated document.
type Config struct {
	LogOutput   string // "stdout", "stderr", or a file path
	SleepTimer  int    // seconds, 1..60
	Tunnels     []TunnelSpec
}

// Load reads and validates path, producing a Config. Process environment
// (for ProgramEnvironment inheritance) is taken from os.Environ().
func Load(path string) (*Config, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(path); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	root := doc.SelectElement("SSHTunnels")
	if root == nil {
		return nil, fmt.Errorf("config: missing <SSHTunnels> root element")
	}

	cfg := &Config{}

	logOutput := root.SelectAttrValue("LogOutput", "")
	if logOutput == "" {
		return nil, fmt.Errorf("config: <SSHTunnels> missing required LogOutput attribute")
	}
	cfg.LogOutput = logOutput

	sleepTimer, err := parseRangedInt(root, "SleepTimer")
	if err != nil {
		return nil, err
	}
	cfg.SleepTimer = sleepTimer

	tunnelElems := root.SelectElements("Tunnel")
	if len(tunnelElems) == 0 {
		return nil, fmt.Errorf("config: at least one <Tunnel> element is required")
	}

	baseEnv := os.Environ()

	for i, te := range tunnelElems {
		spec, err := parseTunnel(te, sleepTimer, baseEnv)
		if err != nil {
			return nil, fmt.Errorf("config: tunnel %d: %w", i+1, err)
		}
		cfg.Tunnels = append(cfg.Tunnels, spec)
	}

	return cfg, nil
}

func parseTunnel(te *etree.Element, sleepTimer int, baseEnv []string) (TunnelSpec, error) {
	var spec TunnelSpec

	enabledAttr := te.SelectAttrValue("UpTokenEnabled", "")
	switch enabledAttr {
	case "true":
		spec.UpTokenEnabled = true
	case "false":
		spec.UpTokenEnabled = false
	default:
		return spec, fmt.Errorf("UpTokenEnabled must be \"true\" or \"false\", got %q", enabledAttr)
	}

	interval, err := parseRangedInt(te, "UpTokenInterval")
	if err != nil {
		return spec, err
	}
	spec.UpTokenInterval = normalizeInterval(interval, sleepTimer)

	for _, pa := range te.SelectElements("ProgramArgument") {
		v := pa.SelectAttrValue("v", "")
		if v == "" {
			return spec, fmt.Errorf("ProgramArgument missing required v attribute")
		}
		spec.Argv = append(spec.Argv, v)
	}
	if len(spec.Argv) == 0 {
		return spec, fmt.Errorf("at least one ProgramArgument is required")
	}

	spec.Envp = mergeEnvironment(baseEnv, te.SelectElements("ProgramEnvironment"))

	return spec, nil
}

// normalizeInterval rounds interval up to the next multiple of sleepTimer;
// if that exceeds 60 it falls back to sleepTimer itself.
func normalizeInterval(interval, sleepTimer int) int {
	if interval%sleepTimer == 0 {
		return interval
	}
	rounded := ((interval / sleepTimer) + 1) * sleepTimer
	if rounded > 60 {
		return sleepTimer
	}
	return rounded
}

// mergeEnvironment overlays per-tunnel ProgramEnvironment entries onto the
// inherited process environment. An entry overrides any inherited entry
// whose KEY= prefix matches; de-duplication is by the portion left of '='.
func mergeEnvironment(base []string, overrides []*etree.Element) []string {
	keyOf := func(kv string) string {
		if idx := strings.IndexByte(kv, '='); idx >= 0 {
			return kv[:idx]
		}
		return kv
	}

	overrideKV := make([]string, 0, len(overrides))
	overrideKeys := make(map[string]bool, len(overrides))
	for _, pe := range overrides {
		v := pe.SelectAttrValue("v", "")
		overrideKV = append(overrideKV, v)
		overrideKeys[keyOf(v)] = true
	}

	merged := make([]string, 0, len(base)+len(overrideKV))
	for _, kv := range base {
		if !overrideKeys[keyOf(kv)] {
			merged = append(merged, kv)
		}
	}
	merged = append(merged, overrideKV...)
	return merged
}

// parseRangedInt reads an integer attribute in [1,60]; out-of-range or
// non-integer values are fatal parse errors.
func parseRangedInt(el *etree.Element, attr string) (int, error) {
	raw := el.SelectAttrValue(attr, "")
	if raw == "" {
		return 0, fmt.Errorf("missing required %s attribute", attr)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", attr, raw)
	}
	if n < 1 || n > 60 {
		return 0, fmt.Errorf("%s must be in range 1..60, got %d", attr, n)
	}
	return n, nil
}
