package ws

import "context"

// AuthorizationProcessor 频道鉴权
type AuthorizationProcessor struct {
	authorizers map[string]AuthorizeFunc
}

// NewAuthorizationProcessor 创建鉴权处理器
func NewAuthorizationProcessor(cfg AuthorizationConfig) (*AuthorizationProcessor, error) {
	authorizers := make(map[string]AuthorizeFunc, len(cfg.Authorizers))
	for channel, fn := range cfg.Authorizers {
		if fn == nil {
			return nil, configError("authorizer for channel %q is nil", channel)
		}
		authorizers[channel] = fn
	}
	return &AuthorizationProcessor{authorizers: authorizers}, nil
}

// Authorize 判断连接能否加入频道
//
// 优先使用频道鉴权函数，其次使用 "*"；均未配置时放行。
// 鉴权函数返回的错误原样返回，panic 转换为 ErrPanic。
func (p *AuthorizationProcessor) Authorize(ctx context.Context, conn *Connection, channel string) (ok bool, err error) {
	fn, found := p.authorizers[channel]
	if !found {
		fn, found = p.authorizers[Wildcard]
	}
	if !found {
		return true, nil
	}

	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = recoverError(r)
		}
	}()
	return fn(ctx, conn, channel)
}
