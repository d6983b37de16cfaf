package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lendgate/crypto"
)

func testAddress(prefix crypto.AddressPrefix, suffix byte) string {
	b := make([]byte, 20)
	b[19] = suffix
	return crypto.NewAddress(prefix, b).String()
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func validBody(t *testing.T) string {
	t.Helper()
	return `
ChainID = 7
NetworkName = "lendgate-test"
DataDir = "/tmp/lendgate-test"
RegistryAddress = "` + testAddress(crypto.QSDPrefix, 0x01) + `"
SettlementAddress = "` + testAddress(crypto.QSDPrefix, 0x02) + `"
MarketAddress = "` + testAddress(crypto.QSDPrefix, 0x03) + `"
FeeSinkAddress = "` + testAddress(crypto.QSDPrefix, 0x04) + `"
CollateralIssuer = "` + testAddress(crypto.CLTPrefix, 0x05) + `"
CirculationSink = "` + testAddress(crypto.CLTPrefix, 0x06) + `"
RequireEndorsement = true

[Market]
LLTVBps = 8000
RateBps = 500
`
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, validBody(t))
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ChainID != 7 || cfg.NetworkName != "lendgate-test" {
		t.Fatalf("identity mismatch: %+v", cfg)
	}
	if !cfg.RequireEndorsement {
		t.Fatalf("RequireEndorsement not decoded")
	}
	if cfg.Market.LLTVBps != 8000 || cfg.Market.RateBps != 500 {
		t.Fatalf("market config mismatch: %+v", cfg.Market)
	}

	addr, err := DecodedAddress(cfg.RegistryAddress)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if addr[19] != 0x01 {
		t.Fatalf("decoded registry address mismatch")
	}
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ChainID != 1 || cfg.NetworkName != "lendgate-local" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Market.LLTVBps != 8000 {
		t.Fatalf("default LLTV missing: %d", cfg.Market.LLTVBps)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file not written: %v", err)
	}
}

func TestValidateRejectsWrongPrefix(t *testing.T) {
	body := strings.Replace(validBody(t),
		testAddress(crypto.CLTPrefix, 0x05),
		testAddress(crypto.QSDPrefix, 0x05), 1)
	path := writeConfig(t, body)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "CollateralIssuer") {
		t.Fatalf("expected prefix rejection, got %v", err)
	}
}

func TestValidateRejectsMissingAddress(t *testing.T) {
	body := strings.Replace(validBody(t),
		`SettlementAddress = "`+testAddress(crypto.QSDPrefix, 0x02)+`"`,
		`SettlementAddress = ""`, 1)
	path := writeConfig(t, body)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "SettlementAddress") {
		t.Fatalf("expected missing address rejection, got %v", err)
	}
}

func TestValidateRejectsLLTVBounds(t *testing.T) {
	for _, lltv := range []string{"10000", "12000"} {
		body := strings.Replace(validBody(t), "LLTVBps = 8000", "LLTVBps = "+lltv, 1)
		path := writeConfig(t, body)
		if _, err := Load(path); err == nil {
			t.Fatalf("expected LLTV %s to be rejected", lltv)
		}
	}
}
