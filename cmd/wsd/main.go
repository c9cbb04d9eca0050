// Command wsd 运行 WebSocket 管线服务
//
//	wsd -config ./wspipe.yaml
//
// 配置文件可选；任意配置项都可以用 WSPIPE_ 前缀的环境变量覆盖，
// 例如 WSPIPE_SERVER_ADDR=:9000、WSPIPE_RELAY_DRIVER=redis。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/tokmz/wspipe/internal/app"
	"github.com/tokmz/wspipe/pkg/config"
)

func main() {
	configFile := flag.String("config", "", "config file path (yaml/json/toml)")
	flag.Parse()

	if err := run(*configFile); err != nil {
		fmt.Fprintf(os.Stderr, "wsd: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	var current atomic.Pointer[app.App]

	opts := []config.Option{
		config.WithEnvPrefix("WSPIPE"),
		config.WithAutoWatch(true),
		config.WithOnChange(func(s *config.Settings) {
			if a := current.Load(); a != nil {
				a.Reload(s)
			}
		}),
	}
	if configFile != "" {
		opts = append(opts, config.WithConfigFile(configFile))
	} else {
		opts = append(opts,
			config.WithConfigName("wspipe"),
			config.WithConfigPaths(".", "/etc/wspipe"),
			config.WithOptional(true),
		)
	}

	settings, err := config.New(opts...).Load()
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := app.New(ctx, settings)
	if err != nil {
		return err
	}
	current.Store(a)
	return a.Run(ctx)
}
