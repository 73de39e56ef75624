package utils

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/identity-onboarding/pkg/logger"
)

// RecoverFn is a function that handles a recovered panic
type RecoverFn func(r interface{}, stack []byte)

// SafeGo runs fn in a goroutine. A panic is passed to onPanic, or logged
// under name when onPanic is nil.
func SafeGo(name string, fn func(), onPanic RecoverFn) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				if onPanic != nil {
					onPanic(r, stack)
					return
				}
				logger.Log.Error("[panic] Recovered from panic in goroutine",
					zap.String("goroutine", name),
					zap.Any("panic", r),
					zap.ByteString("stack", stack))
			}
		}()
		fn()
	}()
}

// WrapWithContextRecovery turns a panic in fn into an error logged on the
// context logger.
func WrapWithContextRecovery(fn func(ctx context.Context) error) func(ctx context.Context) (err error) {
	return func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.FromContext(ctx).Error("[panic] Recovered from panic",
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()))
				err = fmt.Errorf("panic recovered: %v", r)
			}
		}()
		return fn(ctx)
	}
}
