package ws

import (
	"encoding/json"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Protocol 应用层消息编解码
type Protocol interface {
	// Unwrap 解码入站内容
	Unwrap(raw []byte) (any, error)
	// Wrap 编码出站内容
	Wrap(v any) (any, error)
}

// binaryProtocol 以二进制帧发送的协议
type binaryProtocol interface {
	Binary() bool
}

// Serializer 将出站内容序列化为线上字节
type Serializer interface {
	Marshal(v any) ([]byte, error)
}

// JSONSerializer 默认序列化器
type JSONSerializer struct{}

// Marshal 实现 Serializer
func (JSONSerializer) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// JSONProtocol 将入站内容解码为 any
type JSONProtocol struct{}

// Unwrap 实现 Protocol
func (JSONProtocol) Unwrap(raw []byte) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Wrap 实现 Protocol
func (JSONProtocol) Wrap(v any) (any, error) {
	switch x := v.(type) {
	case []byte, string:
		return x, nil
	}
	return json.Marshal(v)
}

// ProtobufProtocol 以 google.protobuf.Value 编码的二进制协议
type ProtobufProtocol struct{}

// Binary 实现 binaryProtocol
func (ProtobufProtocol) Binary() bool { return true }

// Unwrap 实现 Protocol
func (ProtobufProtocol) Unwrap(raw []byte) (any, error) {
	var value structpb.Value
	if err := proto.Unmarshal(raw, &value); err != nil {
		return nil, err
	}
	return value.AsInterface(), nil
}

// Wrap 实现 Protocol
func (ProtobufProtocol) Wrap(v any) (any, error) {
	if msg, ok := v.(proto.Message); ok {
		return proto.Marshal(msg)
	}

	value, err := structpb.NewValue(v)
	if err != nil {
		// 结构体等类型先经 JSON 归一化
		data, jerr := json.Marshal(v)
		if jerr != nil {
			return nil, err
		}
		var generic any
		if jerr = json.Unmarshal(data, &generic); jerr != nil {
			return nil, err
		}
		if value, err = structpb.NewValue(generic); err != nil {
			return nil, err
		}
	}
	return proto.Marshal(value)
}
