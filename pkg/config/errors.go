package config

import "github.com/tokmz/wspipe/pkg/errors"

// 配置包专用错误定义
var (
	// ErrConfigNotFound 配置文件未找到
	ErrConfigNotFound = errors.New(errors.KindConfig, 3001, "config file not found")
	// ErrConfigReadFailed 配置读取失败
	ErrConfigReadFailed = errors.New(errors.KindConfig, 3003, "config read failed")
	// ErrConfigDecodeFailed 配置解析失败
	ErrConfigDecodeFailed = errors.New(errors.KindConfig, 3004, "config decode failed")
)

// ErrConfigInvalid 配置值不合法
var ErrConfigInvalid = errors.New(errors.KindConfig, 3005, "config invalid")
