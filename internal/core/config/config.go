package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Config 是 hostbridge 的全部可调参数
// 文件缺失时使用 Default()，文件中只需写出要覆盖的字段
type Config struct {
	Log       LogConfig       `yaml:"log" json:"log"`
	Timeouts  Timeouts        `yaml:"timeouts" json:"timeouts"`
	Wifi      WifiConfig      `yaml:"wifi" json:"wifi"`
	Speedtest SpeedtestConfig `yaml:"speedtest" json:"speedtest"`
	System    SystemConfig    `yaml:"system" json:"system"`
	Crypto    CryptoConfig    `yaml:"crypto" json:"crypto"`
	Firewall  FirewallConfig  `yaml:"firewall" json:"firewall"`
	Battery   BatteryConfig   `yaml:"battery" json:"battery"`
	Transport TransportConfig `yaml:"transport" json:"transport"`
}

type LogConfig struct {
	Debug     bool   `yaml:"debug" json:"debug"`
	File      string `yaml:"file" json:"file"` // 为空时写 env 的默认日志文件
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
}

type Timeouts struct {
	Command  Duration `yaml:"command" json:"command"`     // 单条系统命令
	HTTP     Duration `yaml:"http" json:"http"`           // 版本检查等普通 HTTP 请求
	WifiInit Duration `yaml:"wifi_init" json:"wifi_init"` // 网卡初始化安全超时
}

type WifiConfig struct {
	Interface   string   `yaml:"interface" json:"interface"` // 为空时自动探测
	ScanCache   Duration `yaml:"scan_cache" json:"scan_cache"`
	ScanCutoff  Duration `yaml:"scan_cutoff" json:"scan_cutoff"`
	RescanDelay Duration `yaml:"rescan_delay" json:"rescan_delay"`
}

type SpeedtestConfig struct {
	DownloadURL string   `yaml:"download_url" json:"download_url"`
	UploadURL   string   `yaml:"upload_url" json:"upload_url"`
	PingHost    string   `yaml:"ping_host" json:"ping_host"`
	Cutoff      Duration `yaml:"cutoff" json:"cutoff"`
}

type SystemConfig struct {
	ReleaseURL    string `yaml:"release_url" json:"release_url"`
	AppVersion    string `yaml:"app_version" json:"app_version"`
	AppVersionURL string `yaml:"app_version_url" json:"app_version_url"`
	DebianVersion string `yaml:"debian_version_file" json:"debian_version_file"`
	OSReleaseFile string `yaml:"os_release_file" json:"os_release_file"`
}

type CryptoConfig struct {
	RPCURL string `yaml:"rpc_url" json:"rpc_url"`
}

type FirewallConfig struct {
	DefaultRules []PortRule `yaml:"default_rules" json:"default_rules"`
}

// PortRule is one firewall exception restored by firewallResetToDefaults.
type PortRule struct {
	Port        int    `yaml:"port" json:"port"`
	Protocol    string `yaml:"protocol" json:"protocol"`
	Description string `yaml:"description" json:"description"`
}

type BatteryConfig struct {
	PollInterval Duration `yaml:"poll_interval" json:"poll_interval"` // 0 关闭后台监听
}

type TransportConfig struct {
	Unix      bool   `yaml:"unix" json:"unix"`
	Websocket string `yaml:"websocket" json:"websocket"` // 监听地址，为空不启动
	JWTSecret string `yaml:"jwt_secret" json:"jwt_secret"`
	MDNS      bool   `yaml:"mdns" json:"mdns"`
	MDNSName  string `yaml:"mdns_name" json:"mdns_name"`
}

// Default 返回内置默认值
func Default() Config {
	return Config{
		Log: LogConfig{MaxSizeMB: 10},
		Timeouts: Timeouts{
			Command:  Duration(15 * time.Second),
			HTTP:     Duration(10 * time.Second),
			WifiInit: Duration(5 * time.Second),
		},
		Wifi: WifiConfig{
			ScanCache:   Duration(30 * time.Second),
			ScanCutoff:  Duration(8 * time.Second),
			RescanDelay: Duration(2 * time.Second),
		},
		Speedtest: SpeedtestConfig{
			DownloadURL: "https://speed.cloudflare.com/__down?bytes=1073741824",
			UploadURL:   "https://speed.cloudflare.com/__up",
			PingHost:    "1.1.1.1",
			Cutoff:      Duration(5 * time.Second),
		},
		System: SystemConfig{
			ReleaseURL:    "https://deb.debian.org/debian/dists/stable/Release",
			AppVersion:    "0.0.2",
			DebianVersion: "/etc/debian_version",
			OSReleaseFile: "/etc/os-release",
		},
		Crypto: CryptoConfig{
			RPCURL: "https://ethereum-rpc.publicnode.com",
		},
		Firewall: FirewallConfig{
			DefaultRules: []PortRule{
				{Port: 22, Protocol: "tcp", Description: "SSH"},
			},
		},
		Battery: BatteryConfig{
			PollInterval: Duration(30 * time.Second),
		},
		Transport: TransportConfig{
			Unix:     true,
			MDNSName: "hostbridge",
		},
	}
}

// Load 按扩展名读取配置：.yaml/.yml 用 yaml.v3，.json/.jsonc 允许注释
// 文件不存在时返回默认值
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		err = json.Unmarshal(jsonc.ToJSON(content), &cfg)
	default:
		err = yaml.Unmarshal(content, &cfg)
	}
	if err != nil {
		return Default(), fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Default(), fmt.Errorf("invalid config file: %w", err)
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail much later.
func (c Config) Validate() error {
	for _, r := range c.Firewall.DefaultRules {
		if r.Port < 1 || r.Port > 65535 {
			return fmt.Errorf("firewall default rule: port %d out of range", r.Port)
		}
		if r.Protocol != "tcp" && r.Protocol != "udp" {
			return fmt.Errorf("firewall default rule: protocol %q must be tcp or udp", r.Protocol)
		}
	}
	if c.Transport.JWTSecret != "" && c.Transport.Websocket == "" {
		return errors.New("transport: jwt_secret set without a websocket address")
	}
	return nil
}

// Save writes the config as YAML.
func Save(path string, c Config) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
