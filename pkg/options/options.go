// Package options 定义服务配置选项的通用接口。
package options

import (
	"github.com/spf13/pflag"
)

// IOptions 是所有配置选项组都要实现的接口。
type IOptions interface {
	// Validate 校验选项的合法性。
	Validate() []error

	// AddFlags 将选项绑定到指定的 FlagSet。
	AddFlags(fs *pflag.FlagSet, prefixes ...string)
}

// Join 拼接 flag 前缀。
func Join(prefixes ...string) string {
	joined := ""
	for _, prefix := range prefixes {
		joined += prefix + "."
	}

	return joined
}
