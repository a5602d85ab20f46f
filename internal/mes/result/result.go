// Package result 提供一个最小的Result类型，把多步领域操作
// （查配方→校验额度→扣料→落库）串成遇错即停的管道，
// 预期中的领域失败作为值传递，不用panic也不用哨兵比较。
package result

// Result 成功携带值，失败携带错误，二者互斥
type Result[T any] struct {
	value T
	err   error
}

// Ok 构造成功结果
func Ok[T any](v T) Result[T] {
	return Result[T]{value: v}
}

// Err 构造失败结果
func Err[T any](err error) Result[T] {
	return Result[T]{err: err}
}

// IsOk 是否成功
func (r Result[T]) IsOk() bool {
	return r.err == nil
}

// Unwrap 拆出值和错误，供惯用的 v, err := 收尾
func (r Result[T]) Unwrap() (T, error) {
	return r.value, r.err
}

// Value 成功值；失败时为零值
func (r Result[T]) Value() T {
	return r.value
}

// ErrValue 错误；成功时为nil
func (r Result[T]) ErrValue() error {
	return r.err
}

// Match 按成功/失败分支处理
func (r Result[T]) Match(onOk func(T), onErr func(error)) {
	if r.err != nil {
		onErr(r.err)
		return
	}
	onOk(r.value)
}

// Map 对成功值做无错变换，失败原样传递
func Map[T, U any](r Result[T], fn func(T) U) Result[U] {
	if r.err != nil {
		return Err[U](r.err)
	}
	return Ok(fn(r.value))
}

// Bind 串接下一步可失败的操作，首错短路
func Bind[T, U any](r Result[T], fn func(T) Result[U]) Result[U] {
	if r.err != nil {
		return Err[U](r.err)
	}
	return fn(r.value)
}

// From 把 (T, error) 提升为Result
func From[T any](v T, err error) Result[T] {
	if err != nil {
		return Err[T](err)
	}
	return Ok(v)
}
