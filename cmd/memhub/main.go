// Package main is the entry point for the MemHub memory service.
package main

import (
	_ "go.uber.org/automaxprocs/maxprocs"

	memhub "github.com/kart-io/memhub/internal/memhub"
	// 导入 LLM 供应商以自动注册
	_ "github.com/kart-io/memhub/pkg/llm/openai"
)

func main() {
	memhub.NewApp().Run()
}
