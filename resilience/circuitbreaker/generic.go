package circuitbreaker

import "context"

// CallWithResultTyped 是 CircuitBreaker.CallWithResult 的泛型封装,
// 免去调用方对 any 返回值做类型断言。
//
//	snap, err := circuitbreaker.CallWithResultTyped[*Snapshot](cb, ctx, func() (*Snapshot, error) {
//	    return fetchRemoteState(ctx, target)
//	})
func CallWithResultTyped[T any](cb CircuitBreaker, ctx context.Context, fn func() (T, error)) (T, error) {
	result, err := cb.CallWithResult(ctx, func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}
