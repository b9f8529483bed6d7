package env

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Registry 记录所有已知的 hostbridge 实例主目录，最近使用的排最前
type Registry struct {
	Instances []string `json:"instances"`
}

func registryPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	// ~/.config/hostbridge 存放全局注册表，避免和实例目录 ~/.hostbridge 混淆
	dir := filepath.Join(home, ".config", "hostbridge")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return filepath.Join(dir, "registry.json"), nil
}

// LoadRegistry 加载注册表，格式错误时返回空表
func LoadRegistry() (*Registry, error) {
	path, err := registryPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Registry{Instances: []string{}}, nil
	}
	if err != nil {
		return nil, err
	}
	var r Registry
	if err := json.Unmarshal(data, &r); err != nil {
		return &Registry{Instances: []string{}}, nil
	}
	return &r, nil
}

func (r *Registry) Save() error {
	path, err := registryPath()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Register moves path to the front of the registry, adding it if new.
func Register(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	r, err := LoadRegistry()
	if err != nil {
		return err
	}

	instances := make([]string, 0, len(r.Instances)+1)
	instances = append(instances, absPath)
	for _, inst := range r.Instances {
		if inst != absPath {
			instances = append(instances, inst)
		}
	}
	r.Instances = instances
	return r.Save()
}

// GetList 获取所有注册的实例
func GetList() []string {
	r, err := LoadRegistry()
	if err != nil {
		return nil
	}
	return r.Instances
}

// FindActive returns the first registered home whose daemon holds its
// lock. The default home is always checked last.
func FindActive() string {
	r, err := LoadRegistry()
	if err != nil {
		return ""
	}

	defaultPath := DefaultUserHome()
	candidates := r.Instances
	found := false
	for _, p := range candidates {
		if p == defaultPath {
			found = true
			break
		}
	}
	if !found {
		candidates = append(candidates, defaultPath)
	}

	for _, path := range candidates {
		if err := CheckLock(path); err == nil {
			return path
		}
	}
	return ""
}
