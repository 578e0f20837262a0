package plan

import (
	"bytes"
	"encoding/json"
)

// Document 有序 JSON 对象，字段按写入顺序输出
type Document struct {
	keys   []string
	values map[string]json.RawMessage
}

// NewDocument 创建空文档
func NewDocument() *Document {
	return &Document{values: map[string]json.RawMessage{}}
}

// Set 写入字段，已存在时原位替换
func (d *Document) Set(key string, v json.RawMessage) {
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = v
}

// SetValue 序列化 v 后写入
func (d *Document) SetValue(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	d.Set(key, raw)
	return nil
}

// Get 读取字段
func (d *Document) Get(key string) (json.RawMessage, bool) {
	v, ok := d.values[key]
	return v, ok
}

// Keys 字段名，按写入顺序
func (d *Document) Keys() []string {
	return append([]string(nil), d.keys...)
}

func (d *Document) Len() int { return len(d.keys) }

// MarshalJSON 按写入顺序输出
func (d *Document) MarshalJSON() ([]byte, error) {
	if d == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range d.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		v := d.values[k]
		if len(v) == 0 {
			v = json.RawMessage("null")
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
