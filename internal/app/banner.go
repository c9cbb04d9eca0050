package app

import (
	"fmt"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
)

// Version 服务版本号
const Version = "0.1.0"

const banner = `
 wspipe  WebSocket 连接与消息管线
         listen: %s
         node:   %s
         version: %s
`

// printBanner 打印启动信息和路由表
func (a *App) printBanner(out io.Writer, addr string) {
	open := addr
	switch {
	case strings.HasPrefix(addr, ":"):
		open = "http://127.0.0.1" + addr
	case !strings.Contains(addr, "://"):
		open = "http://" + addr
	}

	fPrint(out, banner, open, a.server.NodeID(), Version)
	printRoutes(out, a.engine.Routes())
}

// printRoutes 对齐打印路由表
func printRoutes(out io.Writer, routes gin.RoutesInfo) {
	maxPathLen := 0
	for _, r := range routes {
		if len(r.Path) > maxPathLen {
			maxPathLen = len(r.Path)
		}
	}
	for _, r := range routes {
		fPrint(out, "[wspipe] %-7s %-*s --> %s\n", r.Method, maxPathLen, r.Path, r.Handler)
	}
}

// silenceGin 静默 Gin 的默认输出
func silenceGin() {
	gin.DefaultWriter = io.Discard
	gin.DefaultErrorWriter = io.Discard
}

// fPrint 打印到 writer，忽略错误
func fPrint(out io.Writer, format string, a ...any) {
	_, _ = fmt.Fprintf(out, format, a...)
}
