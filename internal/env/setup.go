package env

import "os"

// Setup 是应用启动的唯一环境入口
//  1. 指定了 homeFlag 或 HOSTBRIDGE_HOME -> 用之
//  2. 未指定 -> 活跃实例 > 最近注册的目录 > 默认 ~/.hostbridge
//  3. 无论如何都注册该目录，方便 CLI 下次找到 daemon
func Setup(homeFlag string) error {
	resolved := homeFlag
	if resolved == "" && os.Getenv(HomeEnv) == "" && DefaultHome == "" {
		if active := FindActive(); active != "" {
			resolved = active
		} else if list := GetList(); len(list) > 0 {
			resolved = list[0]
		}
	}

	if err := Init(resolved); err != nil {
		return err
	}
	return Register(Get().HomeDir)
}
