package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/moffa90/go-fastboot/protocol"
)

func TestDefaults(t *testing.T) {

	var cfg AppConfig
	if err := Load(New(), "", &cfg); err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.LogFormat != "human" || cfg.Debug {
		t.Errorf("core defaults = %+v", cfg)
	}
	if cfg.Transfer.ReadTimeout != protocol.DefaultReadTimeout {
		t.Errorf("ReadTimeout = %v", cfg.Transfer.ReadTimeout)
	}
	if cfg.Transfer.SparseLimit != protocol.DefaultMaxDownloadSize {
		t.Errorf("SparseLimit = %d", cfg.Transfer.SparseLimit)
	}
	if cfg.Transfer.RawResparseThreshold != 0 {
		t.Errorf("RawResparseThreshold = %d, want 0", cfg.Transfer.RawResparseThreshold)
	}
}

func TestConfigFileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gofastboot.yaml")
	content := "log_format: json\nslot: b\ntransfer:\n  read_timeout: 5s\n  raw_resparse_threshold: 8192\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("ANDROID_PRODUCT_OUT", "/out/target/product/walleye")
	t.Setenv("ANDROID_SERIAL", "tcp:192.168.1.20")
	t.Setenv("FASTBOOT_TRANSFER_RETRIES", "7")

	var cfg AppConfig
	if err := Load(New(), path, &cfg); err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}

	if cfg.LogFormat != "json" || cfg.Slot != "b" {
		t.Errorf("file values = %q, %q", cfg.LogFormat, cfg.Slot)
	}
	if cfg.Transfer.ReadTimeout != 5*time.Second || cfg.Transfer.RawResparseThreshold != 8192 {
		t.Errorf("transfer = %+v", cfg.Transfer)
	}
	if cfg.Transfer.Retries != 7 {
		t.Errorf("Retries = %d, want 7 from the environment", cfg.Transfer.Retries)
	}
	if cfg.ProductOut != "/out/target/product/walleye" || cfg.Device != "tcp:192.168.1.20" {
		t.Errorf("android environment = %q, %q", cfg.ProductOut, cfg.Device)
	}
}

func TestFastbootEnvironmentWins(t *testing.T) {
	t.Setenv("ANDROID_SERIAL", "tcp:10.0.0.1")
	t.Setenv("FASTBOOT_DEVICE", "udp:10.0.0.2")

	var cfg AppConfig
	if err := Load(New(), "", &cfg); err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.Device != "udp:10.0.0.2" {
		t.Errorf("Device = %q, want the FASTBOOT_DEVICE value", cfg.Device)
	}
}

func TestBrokenConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gofastboot.yaml")
	if err := os.WriteFile(path, []byte("slot: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	var cfg AppConfig
	if err := Load(New(), path, &cfg); err == nil {
		t.Error("Load() of malformed YAML succeeded")
	}
}

func TestFlagOverride(t *testing.T) {
	if err := Initialize(""); err != nil {
		t.Fatalf("Initialize() unexpected error: %v", err)
	}

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("slot", "", "")
	if err := flags.Parse([]string{"--slot", "other"}); err != nil {
		t.Fatal(err)
	}
	if err := BindFlag("slot", flags.Lookup("slot")); err != nil {
		t.Fatalf("BindFlag() unexpected error: %v", err)
	}
	if err := Refresh(); err != nil {
		t.Fatalf("Refresh() unexpected error: %v", err)
	}
	if Instance.Slot != "other" {
		t.Errorf("Slot = %q, want other", Instance.Slot)
	}
}
