package utils

import (
	"bytes"
	"sync"

	"github.com/bytedance/sonic"
)

type bufferPool struct {
	pool sync.Pool
}

func (p *bufferPool) Get() *bytes.Buffer {
	if buf := p.pool.Get(); buf != nil {
		return buf.(*bytes.Buffer)
	}
	return bytes.NewBuffer(make([]byte, 0, 1024))
}

func (p *bufferPool) Put(buf *bytes.Buffer) {
	buf.Reset()
	if buf.Cap() < 64*1024 {
		p.pool.Put(buf)
	}
}

var encodePool = &bufferPool{}

// Marshal encodes data as JSON. The returned slice is owned by the caller.
func Marshal(data interface{}) ([]byte, error) {
	buf := encodePool.Get()
	defer encodePool.Put(buf)

	if err := sonic.ConfigDefault.NewEncoder(buf).Encode(data); err != nil {
		return nil, err
	}

	out := bytes.TrimRight(buf.Bytes(), "\n")
	result := make([]byte, len(out))
	copy(result, out)
	return result, nil
}

func Unmarshal[T any](data []byte, target *T) error {
	return sonic.ConfigDefault.Unmarshal(data, target)
}

// Codec turns cache values into the bytes held by a backing store.
type Codec[V any] interface {
	Encode(value V) ([]byte, error)
	Decode(data []byte) (V, error)
}

type JSONCodec[V any] struct{}

func (JSONCodec[V]) Encode(value V) ([]byte, error) {
	return Marshal(value)
}

func (JSONCodec[V]) Decode(data []byte) (V, error) {
	var value V
	err := Unmarshal(data, &value)
	return value, err
}

// UnmarshalConfig converts a loosely typed config section into target.
func UnmarshalConfig[T any](config interface{}, target *T) error {
	if config == nil {
		return nil
	}

	if typed, ok := config.(*T); ok {
		*target = *typed
		return nil
	}

	configBytes, err := sonic.ConfigDefault.Marshal(config)
	if err != nil {
		return err
	}

	return sonic.ConfigDefault.Unmarshal(configBytes, target)
}
