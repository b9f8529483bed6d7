package env

import (
	"os"
	"path/filepath"
	"sync"
)

// Paths 定义了应用所有的关键路径
type Paths struct {
	HomeDir         string // 主目录
	ConfigFile      string // config.yaml
	LogFile         string // hostbridge.log
	StateFile       string // state.json
	SocketFile      string // ipc.sock
	AddressBookFile string // addressbook.db
	LockFile        string // hostbridge.lock
}

var (
	current Paths
	once    sync.Once
)

// HomeEnv overrides the home directory when no --home flag is given.
const HomeEnv = "HOSTBRIDGE_HOME"

// Get 获取全局路径配置
func Get() Paths {
	return current
}

var (
	// 这个变量是给 ldflags 注入用的
	// 默认为空，发行版打包时可以注入 "/var/lib/hostbridge"
	DefaultHome string
)

// DefaultUserHome is the fallback home, ~/.hostbridge.
func DefaultUserHome() string {
	userHome, _ := os.UserHomeDir()
	return filepath.Join(userHome, ".hostbridge")
}

// Init 初始化环境
// flagHome: 命令行传入的 --home 参数，为空则自动探测
func Init(flagHome string) error {
	var err error
	once.Do(func() {
		home := ""

		switch {
		case flagHome != "":
			home = flagHome
		case os.Getenv(HomeEnv) != "":
			home = os.Getenv(HomeEnv)
		case DefaultHome != "":
			home = DefaultHome
		default:
			home = DefaultUserHome()
		}

		// 转换成绝对路径，避免后续逻辑混乱
		home, err = filepath.Abs(home)
		if err != nil {
			return
		}

		if err = os.MkdirAll(home, 0755); err != nil {
			return
		}

		current = PathsFor(home)
	})
	return err
}

// PathsFor derives every path from a home directory without touching disk.
func PathsFor(home string) Paths {
	return Paths{
		HomeDir:         home,
		ConfigFile:      filepath.Join(home, "config.yaml"),
		LogFile:         filepath.Join(home, "hostbridge.log"),
		StateFile:       filepath.Join(home, "state.json"),
		SocketFile:      filepath.Join(home, "ipc.sock"),
		AddressBookFile: filepath.Join(home, "addressbook.db"),
		LockFile:        filepath.Join(home, "hostbridge.lock"),
	}
}

// ResetForTest 重置环境单例状态
// ⚠️ 仅供测试使用，生产代码禁止调用
func ResetForTest() {
	current = Paths{}
	once = sync.Once{}
}
