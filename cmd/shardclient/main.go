package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/ecodeclub/ekit/mapx"
	"github.com/spf13/pflag"

	"github.com/meoying/shardclient"
	"github.com/meoying/shardclient/config"
	"github.com/meoying/shardclient/internal/router"
)

func main() {
	cfile := pflag.String("config", "config/config.yaml", "配置文件路径")
	action := pflag.String("action", "", "需要计算路由的 SQL action")
	arg := pflag.String("arg", "", "JSON 格式的参数")
	ping := pflag.Bool("ping", false, "检查所有分片是否可用")
	verbose := pflag.BoolP("verbose", "v", false, "输出调试日志")
	pflag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(*cfile)
	if err != nil {
		panic(fmt.Errorf("初始化读取配置文件失败 %w", err))
	}
	cfg.ApplyDefaults()
	if err = cfg.Validate(); err != nil {
		panic(fmt.Errorf("配置文件不合法 %w", err))
	}

	if *action != "" {
		if err = route(cfg, logger, *action, *arg); err != nil {
			panic(err)
		}
	}
	if *ping {
		if err = pingShards(cfg, logger); err != nil {
			panic(err)
		}
	}
}

func route(cfg *config.Config, logger *slog.Logger, action, arg string) error {
	var argument any
	if arg != "" {
		if err := json.Unmarshal([]byte(arg), &argument); err != nil {
			return fmt.Errorf("解析参数失败 %w", err)
		}
	}
	opts := []router.Option{router.WithLogger(logger), router.WithSeparator(cfg.Router.Separator)}
	r, err := router.New(cfg.Descriptors(), opts...)
	if err != nil {
		return err
	}
	res, err := r.Route(context.Background(), router.Fact{Action: action, Argument: argument})
	if err != nil {
		return err
	}
	if res.Empty() {
		fmt.Println("未命中任何规则, 使用默认数据源")
		return nil
	}
	fmt.Printf("分片: %v\n", res.ResourceIdentities)
	if res.Merger != "" {
		fmt.Printf("merger: %s\n", res.Merger)
	}
	return nil
}

func pingShards(cfg *config.Config, logger *slog.Logger) error {
	c, err := shardclient.Open(cfg, shardclient.NewSQLExecutor(), shardclient.WithLogger(logger))
	if err != nil {
		return err
	}
	c.Start()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	defer func() {
		_ = c.Close(ctx)
	}()
	res := c.Ping(ctx)
	ids := mapx.Keys(res)
	slices.Sort(ids)
	for _, id := range ids {
		if err := res[id]; err != nil {
			fmt.Printf("%s: %v\n", id, err)
			continue
		}
		fmt.Printf("%s: ok\n", id)
	}
	return nil
}
