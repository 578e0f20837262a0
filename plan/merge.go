package plan

import (
	"bytes"
	"encoding/json"

	"github.com/ceyewan/bff/xerrors"
)

// SectionMerge 默认合并函数：每个成功的调用成为以其 ID 命名的字段。
// 失败、跳过或未完成的调用不出现在结果中，由聚合器写入 partial。
func SectionMerge(r Results) (*Document, error) {
	doc := NewDocument()
	for _, s := range r.Specs() {
		payload, ok := r.Payload(s.ID)
		if !ok {
			continue
		}
		raw, err := section(s, payload)
		if err != nil {
			return nil, xerrors.Wrapf(err, "section %s", s.ID)
		}
		doc.Set(s.ID, raw)
	}
	return doc, nil
}

func section(s CallSpec, payload []byte) (json.RawMessage, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(payload) {
		return nil, ErrInvalidPayload
	}
	if s.Field == "" || payload[0] != '{' {
		return payload, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, xerrors.Wrap(ErrInvalidPayload, err.Error())
	}
	if v, ok := obj[s.Field]; ok {
		return v, nil
	}
	return payload, nil
}
