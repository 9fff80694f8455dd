// config_test.go tests config files
package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sample = `{
	"dbtype": "mongodb",
	"dbconn": "mongodb://localhost:27017",
	"port": "3030",
	"contract": "0x1b5e59368c2e6577e02f2de19ead7ec7f432f27d",
	"network": {
		"chainId": "0x13882",
		"chainName": "Polygon Amoy Testnet",
		"nativeCurrency": {"name": "MATIC", "symbol": "MATIC", "decimals": 18},
		"rpcUrls": ["https://rpc-amoy.polygon.technology/"],
		"blockExplorerUrls": ["https://amoy.polygonscan.com/"]
	},
	"networks": [
		{"chainId": "0x89", "chainName": "Polygon Mainnet", "nativeCurrency": {"name": "MATIC", "symbol": "MATIC", "decimals": 18}, "rpcUrls": ["https://polygon-rpc.com/"], "blockExplorerUrls": ["https://polygonscan.com/"]}
	]
}`

// TestConfig extracts config from a file and checks values loaded
func TestConfig(t *testing.T) {
	file := filepath.Join(t.TempDir(), "conf.json")
	if err := os.WriteFile(file, []byte(sample), 0o600); err != nil {
		t.Fatalf("error writing config file:%v", err)
	}

	conf, err := ExtractConfiguration(file)
	if err != nil {
		t.Fatalf("error reading config file:%v", err)
	}
	// lets check the port
	if conf.Port != "3030" {
		t.Errorf("config port is not the expected %s", conf.Port)
	}
	// the contract
	if conf.Contract != "0x1b5e59368c2e6577e02f2de19ead7ec7f432f27d" {
		t.Errorf("contract does not match the expected %s", conf.Contract)
	}
	// and the networks
	if conf.Network.ChainID != "0x13882" || conf.Network.Currency.Decimals != 18 {
		t.Errorf("target network does not match the expected %+v", conf.Network)
	}
	if conf.Network.Node() != "https://rpc-amoy.polygon.technology/" {
		t.Errorf("network node does not match the expected %s", conf.Network.Node())
	}
	if len(conf.Networks) != 1 || conf.Networks[0].ChainID != "0x89" {
		t.Errorf("extra networks do not match the expected %+v", conf.Networks)
	}
}

// TestConfigEnvOverride checks OS ENV variables take precedence over file values.
func TestConfigEnvOverride(t *testing.T) {
	t.Setenv("DTRACK_PORT", "4040")
	t.Setenv("DTRACK_CONTRACT", "0xabc0000000000000000000000000000000000abc")

	conf, err := ExtractConfiguration("")
	if err != nil {
		t.Fatalf("error extracting configuration:%v", err)
	}
	if conf.Port != "4040" {
		t.Errorf("env override for port not applied, got %s", conf.Port)
	}
	if conf.Contract != "0xabc0000000000000000000000000000000000abc" {
		t.Errorf("env override for contract not applied, got %s", conf.Contract)
	}
	// defaults survive for everything else
	if conf.DBType != DBTypeDefault || conf.Network.ChainID != NetworkDefault.ChainID {
		t.Errorf("defaults were not preserved: %+v", conf)
	}
}
