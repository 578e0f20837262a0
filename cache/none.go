package cache

import (
	"context"
	"time"
)

type noneStore struct{}

// None 返回永远未命中的驱动
func None() Store { return noneStore{} }

func (noneStore) Get(context.Context, string) (*Entry, error) { return nil, ErrMiss }
func (noneStore) Set(context.Context, string, *Entry, time.Duration) error { return nil }
func (noneStore) Delete(context.Context, string) error { return nil }
func (noneStore) DeletePrefix(context.Context, string) error { return nil }
func (noneStore) Ping(context.Context) error { return nil }
func (noneStore) Close() error { return nil }
