/*
 * @Description:
 * @Author: 安知鱼
 * @Date: 2025-06-28 00:21:55
 * @LastEditTime: 2026-03-06 23:20:40
 * @LastEditors: 安知鱼
 */
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/anzhiyu-c/anheyu-mpflow/cmd/server"
	"github.com/anzhiyu-c/anheyu-mpflow/internal/pkg/version"
)

func main() {
	// 解析命令行参数
	var (
		configPath  string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "配置文件路径，默认 ./data/conf.ini")
	flag.BoolVar(&showVersion, "version", false, "打印版本信息并退出")
	flag.Parse()

	if showVersion {
		fmt.Println(version.GetVersionString())
		return
	}

	// 调用位于 cmd/server 包中的 NewApp 函数来构建整个应用
	app, cleanup, err := server.NewApp(configPath)
	if err != nil {
		if cleanup != nil {
			cleanup()
		}
		log.Fatalf("应用初始化失败: %v", err)
	}

	// 使用 defer 来确保 cleanup 函数在 main 退出时被调用
	defer cleanup()

	// 确保后台任务在程序退出时被停止
	defer app.Stop()

	app.PrintBanner()

	if err := app.Run(); err != nil {
		log.Printf("应用运行失败: %v", err)
		app.Stop()
		cleanup()
		os.Exit(1)
	}
}
