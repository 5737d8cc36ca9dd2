package gojob

import (
	"context"

	gocmd "github.com/goliatone/go-command"
)

type resultCollector[T any] struct {
	attach func(context.Context) context.Context
	value  func() T
}

func gocmdResult[T any]() resultCollector[T] {
	result := gocmd.NewResult[T]()
	return resultCollector[T]{
		attach: func(parent context.Context) context.Context {
			return gocmd.ContextWithResult(parent, result)
		},
		value: func() T {
			value, _ := result.Load()
			return value
		},
	}
}

func (c resultCollector[T]) ctx(parent context.Context) context.Context {
	return c.attach(parent)
}

func (c resultCollector[T]) load() T {
	return c.value()
}
