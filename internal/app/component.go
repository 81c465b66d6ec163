package app

import (
	"context"

	coreerrors "kq-tunnel/internal/core/errors"
	corelog "kq-tunnel/internal/core/log"
)

// Component 应用组件
//
// 按注册顺序启动，逆序停止
type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}

// component 用函数拼装的组件
type component struct {
	name  string
	start func(ctx context.Context) error
	stop  func() error
}

func (c *component) Name() string { return c.name }

func (c *component) Start(ctx context.Context) error {
	if c.start == nil {
		return nil
	}
	return c.start(ctx)
}

func (c *component) Stop() error {
	if c.stop == nil {
		return nil
	}
	return c.stop()
}

// startAll 依次启动组件，失败时逆序停止已启动的组件
func startAll(ctx context.Context, log corelog.Logger, comps []Component) error {
	for i, c := range comps {
		log.Debugf("app: starting %s", c.Name())
		if err := c.Start(ctx); err != nil {
			stopAll(log, comps[:i])
			code := coreerrors.GetCode(err)
			if code == "" {
				code = coreerrors.CodeInternal
			}
			return coreerrors.Wrapf(err, code, "start %s", c.Name())
		}
	}
	return nil
}

// stopAll 逆序停止组件，返回所有错误
func stopAll(log corelog.Logger, comps []Component) error {
	var errs []error
	for i := len(comps) - 1; i >= 0; i-- {
		c := comps[i]
		log.Debugf("app: stopping %s", c.Name())
		if err := c.Stop(); err != nil {
			log.WithError(err).Warnf("app: stop %s", c.Name())
			errs = append(errs, err)
		}
	}
	return coreerrors.Join(errs...)
}
