// Package serializer 缓存条目的编解码
package serializer

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ceyewan/bff/xerrors"
)

// ErrUnsupportedSerializer 不支持的序列化器类型
var ErrUnsupportedSerializer = xerrors.New("serializer: unsupported type")

// Serializer 序列化接口
type Serializer interface {
	Marshal(value any) ([]byte, error)
	Unmarshal(data []byte, dest any) error
	Name() string
}

// JSONSerializer JSON 序列化器
type JSONSerializer struct{}

func (JSONSerializer) Marshal(value any) ([]byte, error) {
	return json.Marshal(value)
}

func (JSONSerializer) Unmarshal(data []byte, dest any) error {
	return json.Unmarshal(data, dest)
}

func (JSONSerializer) Name() string { return "json" }

// MessagePackSerializer MessagePack 序列化器
//
// 条目 Payload 本身已是 JSON 字节，msgpack 以 bin 存储，不会再做一次转义。
type MessagePackSerializer struct{}

func (MessagePackSerializer) Marshal(value any) ([]byte, error) {
	return msgpack.Marshal(value)
}

func (MessagePackSerializer) Unmarshal(data []byte, dest any) error {
	return msgpack.Unmarshal(data, dest)
}

func (MessagePackSerializer) Name() string { return "msgpack" }

// New 创建序列化器
//
//   - "msgpack"（默认）
//   - "json"：便于用 redis-cli 直接查看
func New(serializerType string) (Serializer, error) {
	switch serializerType {
	case "msgpack", "":
		return MessagePackSerializer{}, nil
	case "json":
		return JSONSerializer{}, nil
	default:
		return nil, xerrors.Wrapf(ErrUnsupportedSerializer, "%q", serializerType)
	}
}
