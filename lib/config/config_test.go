// config_test.go tests config files
package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sample = `{
	"port": "3031",
	"assetId": "XRP",
	"refreshEach": 5000,
	"reserve": 25000000,
	"txPriority": 2,
	"testnet": true,
	"wallet": {"address": "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"}
}`

// TestConfig extracts config from a file and checks values loaded.
func TestConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf.json")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatalf("writing sample config: %v", err)
	}

	conf, err := ExtractConfiguration(path)
	if err != nil {
		t.Fatalf("Error reading config file:%v", err)
	}

	if conf.Port != "3031" {
		t.Errorf("config port is not the expected %s", conf.Port)
	}

	if conf.RefreshEach != 5000 || conf.Reserve != 25000000 {
		t.Errorf("refresh/reserve do not match: %d %d", conf.RefreshEach, conf.Reserve)
	}

	if conf.TxPriority == nil || *conf.TxPriority != 2 {
		t.Errorf("txPriority not loaded: %v", conf.TxPriority)
	}

	if conf.TxUnlock != nil {
		t.Errorf("txUnlock should stay unset, got %v", *conf.TxUnlock)
	}

	if !conf.Testnet {
		t.Error("testnet flag not loaded")
	}

	if conf.Wallet.Address != "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh" {
		t.Errorf("wallet address not loaded: %s", conf.Wallet.Address)
	}

	// defaults survive for unset keys
	if conf.DBType != DBTypeDefault || conf.AssetOpKey != AssetOpKeyDefault {
		t.Errorf("defaults not applied: %s %s", conf.DBType, conf.AssetOpKey)
	}
}

// TestConfigEnvOverride checks OS ENV variables take precedence over file values.
func TestConfigEnvOverride(t *testing.T) {
	t.Setenv("CGW_PORT", "4040")
	t.Setenv("CGW_RESERVE", "30000000")
	t.Setenv("CGW_TXUNLOCK", "77")

	conf, err := ExtractConfiguration("")
	if err != nil {
		t.Fatalf("Error reading config:%v", err)
	}

	if conf.Port != "4040" {
		t.Errorf("env port override failed: %s", conf.Port)
	}

	if conf.Reserve != 30000000 {
		t.Errorf("env reserve override failed: %d", conf.Reserve)
	}

	if conf.TxUnlock == nil || *conf.TxUnlock != 77 {
		t.Errorf("env txUnlock override failed: %v", conf.TxUnlock)
	}
}
