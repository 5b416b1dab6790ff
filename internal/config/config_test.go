package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, xml string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(xml), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

const sampleXML = `<SSHTunnels LogOutput="stdout" SleepTimer="5">
  <Tunnel UpTokenEnabled="true" UpTokenInterval="7">
    <ProgramArgument v="/usr/bin/ssh"/>
    <ProgramArgument v="-N"/>
    <ProgramEnvironment v="PATH=/custom/bin"/>
  </Tunnel>
</SSHTunnels>`

func TestLoadHappyPath(t *testing.T) {
	path := writeConfig(t, sampleXML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogOutput != "stdout" || cfg.SleepTimer != 5 {
		t.Fatalf("unexpected top-level config: %+v", cfg)
	}
	if len(cfg.Tunnels) != 1 {
		t.Fatalf("expected 1 tunnel, got %d", len(cfg.Tunnels))
	}
	tun := cfg.Tunnels[0]
	if !tun.UpTokenEnabled {
		t.Fatalf("expected UpTokenEnabled=true")
	}
	// 7 is not a multiple of 5: rounds up to 10.
	if tun.UpTokenInterval != 10 {
		t.Fatalf("expected normalized interval 10, got %d", tun.UpTokenInterval)
	}
	if len(tun.Argv) != 2 || tun.Argv[0] != "/usr/bin/ssh" || tun.Argv[1] != "-N" {
		t.Fatalf("unexpected argv: %v", tun.Argv)
	}
}

func TestIntervalNormalizationFallsBackWhenOverflowing(t *testing.T) {
	// 59 is not a multiple of 40: rounds up to 80, which exceeds 60.
	if got := normalizeInterval(59, 40); got != 40 {
		t.Fatalf("expected fallback to sleepTimer 40 when rounding would exceed 60, got %d", got)
	}
}

func TestIntervalNormalizationExactMultiplePassesThrough(t *testing.T) {
	if got := normalizeInterval(10, 5); got != 10 {
		t.Fatalf("expected 10, got %d", got)
	}
}

func TestOutOfRangeAttributeIsFatal(t *testing.T) {
	xml := `<SSHTunnels LogOutput="stdout" SleepTimer="61">
  <Tunnel UpTokenEnabled="true" UpTokenInterval="5">
    <ProgramArgument v="/bin/true"/>
  </Tunnel>
</SSHTunnels>`
	path := writeConfig(t, xml)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for out-of-range SleepTimer")
	}
}

func TestMissingTunnelIsFatal(t *testing.T) {
	xml := `<SSHTunnels LogOutput="stdout" SleepTimer="5"></SSHTunnels>`
	path := writeConfig(t, xml)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for config with zero tunnels")
	}
}

func TestProgramEnvironmentOverridesInheritedByKeyPrefix(t *testing.T) {
	t.Setenv("SSHTUNNELS_TEST_VAR", "inherited-value")

	xml := `<SSHTunnels LogOutput="stdout" SleepTimer="5">
  <Tunnel UpTokenEnabled="true" UpTokenInterval="5">
    <ProgramArgument v="/bin/true"/>
    <ProgramEnvironment v="SSHTUNNELS_TEST_VAR=overridden-value"/>
  </Tunnel>
</SSHTunnels>`
	path := writeConfig(t, xml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	envp := cfg.Tunnels[0].Envp
	var found, sawInherited string
	for _, kv := range envp {
		if kv == "SSHTUNNELS_TEST_VAR=overridden-value" {
			found = kv
		}
		if kv == "SSHTUNNELS_TEST_VAR=inherited-value" {
			sawInherited = kv
		}
	}
	if found == "" {
		t.Fatalf("expected override to appear in merged environment, got %v", envp)
	}
	if sawInherited != "" {
		t.Fatalf("inherited value should have been replaced by the override, got %v", envp)
	}
}

func TestMergeEnvironmentPassesThroughWithNoOverrides(t *testing.T) {
	merged := mergeEnvironment([]string{"PATH=/usr/bin", "HOME=/root"}, nil)
	if len(merged) != 2 {
		t.Fatalf("expected passthrough of base env, got %v", merged)
	}
}

func TestSearchPathsOrder(t *testing.T) {
	paths := SearchPaths("/opt/sshtunnels")
	want := []string{".", "/opt/sshtunnels/etc", "/etc"}
	if len(paths) != len(want) {
		t.Fatalf("got %v want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("got %v want %v", paths, want)
		}
	}
}
