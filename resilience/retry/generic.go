package retry

import "context"

// DoWithResultTyped 是 Retryer.DoWithResult 的泛型封装,
// 免去调用方对 any 返回值做类型断言。
//
//	ack, err := retry.DoWithResultTyped[*DeliveryAck](r, ctx, func() (*DeliveryAck, error) {
//	    return transport.Forward(ctx, env)
//	})
func DoWithResultTyped[T any](r Retryer, ctx context.Context, fn func() (T, error)) (T, error) {
	result, err := r.DoWithResult(ctx, func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}
