package ws

import (
	"context"
	"fmt"

	"github.com/tokmz/wspipe/pkg/errors"
)

// NextFunc 继续执行下一个中间件，多次调用与一次等价
type NextFunc func()

// MiddlewareFunc 中间件函数，不调用 next 即终止链
type MiddlewareFunc[T any] func(ctx context.Context, target T, next NextFunc) error

// Middleware 具名中间件
type Middleware[T any] struct {
	Name   string
	Handle MiddlewareFunc[T]
}

// Chain 有序中间件链
type Chain[T any] struct {
	items []Middleware[T]
}

// NewChain 创建中间件链（名称必须唯一）
func NewChain[T any](items ...Middleware[T]) (*Chain[T], error) {
	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		if item.Name == "" {
			return nil, configError("middleware #%d has no name", i)
		}
		if item.Handle == nil {
			return nil, configError("middleware %q has nil handler", item.Name)
		}
		if _, ok := seen[item.Name]; ok {
			return nil, configError("duplicate middleware %q", item.Name)
		}
		seen[item.Name] = struct{}{}
	}

	return &Chain[T]{items: append([]Middleware[T](nil), items...)}, nil
}

// Len 中间件数量
func (c *Chain[T]) Len() int {
	if c == nil {
		return 0
	}
	return len(c.items)
}

// Names 按执行顺序返回中间件名称
func (c *Chain[T]) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, len(c.items))
	for i, item := range c.items {
		names[i] = item.Name
	}
	return names
}

// Run 按顺序执行中间件
//
// 返回 true 表示整条链执行完毕；某个中间件未调用 next 时返回 false。
// 中间件返回错误或 panic 时立即停止。空链视为执行完毕。
func (c *Chain[T]) Run(ctx context.Context, target T) (completed bool, err error) {
	if c == nil {
		return true, nil
	}

	for i := range c.items {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		advanced, err := c.step(ctx, c.items[i], target)
		if err != nil {
			return false, err
		}
		if !advanced {
			return false, nil
		}
	}
	return true, nil
}

// step 执行单个中间件
func (c *Chain[T]) step(ctx context.Context, item Middleware[T], target T) (advanced bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			advanced = false
			err = recoverError(r)
		}
	}()

	err = item.Handle(ctx, target, func() { advanced = true })
	return advanced, err
}

// recoverError 将 panic 转换为错误
func recoverError(r any) error {
	if err, ok := r.(error); ok {
		return errors.ErrPanic.WithError(err)
	}
	return errors.ErrPanic.WithError(fmt.Errorf("%v", r))
}
