package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/BetterCallFirewall/postcap/internal/recorder"
)

type Config struct {
	Proxy   ProxyConfig   `yaml:"proxy"`
	Web     WebConfig     `yaml:"web"`
	Cert    CertConfig    `yaml:"cert"`
	Capture CaptureConfig `yaml:"capture"`
}

type ProxyConfig struct {
	ListenAddr   string `yaml:"listen_addr"`
	UpstreamAddr string `yaml:"upstream_addr"`
}

type WebConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type CertConfig struct {
	CertFile string `yaml:"cert_file"`
}

type CaptureConfig struct {
	HostFilter     string `yaml:"host_filter"`
	CollectionName string `yaml:"collection_name"`
	OutputDir      string `yaml:"output_dir"`
}

func defaults() *Config {
	return &Config{
		Proxy: ProxyConfig{
			ListenAddr: ":8080",
		},
		Web: WebConfig{
			ListenAddr: ":8081",
		},
		Cert: CertConfig{
			CertFile: "ca.pem",
		},
		Capture: CaptureConfig{
			HostFilter:     recorder.DefaultHost,
			CollectionName: recorder.DefaultCollectionName,
			OutputDir:      ".",
		},
	}
}

// Load resolves the configuration in three layers: defaults, an
// optional yaml file, then environment variables. A .env file in the
// working directory is picked up when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	envOverride(&c.Proxy.ListenAddr, "PROXY_LISTEN_ADDR")
	envOverride(&c.Proxy.UpstreamAddr, "UPSTREAM_PROXY_ADDR")
	envOverride(&c.Web.ListenAddr, "WEB_LISTEN_ADDR")
	envOverride(&c.Cert.CertFile, "PROXY_CERT_FILE")
	envOverride(&c.Capture.HostFilter, "HOST_FILTER")
	envOverride(&c.Capture.CollectionName, "COLLECTION_NAME")
	envOverride(&c.Capture.OutputDir, "OUTPUT_DIR")
}

func envOverride(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
