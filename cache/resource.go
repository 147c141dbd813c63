package cache

import (
	"context"

	"crm-rpc/codec"
	"crm-rpc/server"

	"github.com/pkg/errors"
)

// Method names exposed by Resource.
const (
	MethodGet    = "get"
	MethodPut    = "put"
	MethodDelete = "delete"
	MethodLen    = "len"
)

// Arguments and replies are JSON. A missing key is a normal reply with Found unset, not an error:
// any method error terminates the serving session.
type request struct {
	Key   string `json:"key,omitempty"`
	Value []byte `json:"value,omitempty"`
}

type response struct {
	Value []byte `json:"value,omitempty"`
	Found bool   `json:"found,omitempty"`
	Len   int    `json:"len"`
}

// Resource exposes a store to a server. The touched key is returned as the auxiliary value.
type Resource struct {
	store Store
	codec codec.Codec
}

func NewResource(store Store) *Resource {
	return &Resource{
		store: store,
		codec: codec.GetCodec(codec.CodecTypeJSON),
	}
}

func (r *Resource) Methods() map[string]server.Method {
	return map[string]server.Method{
		MethodGet:    r.get,
		MethodPut:    r.put,
		MethodDelete: r.delete,
		MethodLen:    r.len,
	}
}

// Terminate empties a local store when the serving session ends.
func (r *Resource) Terminate() error {
	if p, ok := r.store.(interface{ Purge() }); ok {
		p.Purge()
	}
	return nil
}

func (r *Resource) get(args []byte) (any, []byte, error) {
	req, err := r.decode(args)
	if err != nil {
		return nil, nil, err
	}
	value, err := r.store.Get(context.Background(), req.Key)
	switch {
	case errors.Is(err, ErrNotFound):
		return r.reply(req.Key, &response{})
	case err != nil:
		return nil, nil, err
	}
	return r.reply(req.Key, &response{Value: value, Found: true})
}

func (r *Resource) put(args []byte) (any, []byte, error) {
	req, err := r.decode(args)
	if err != nil {
		return nil, nil, err
	}
	if err := r.store.Put(context.Background(), req.Key, req.Value); err != nil {
		return nil, nil, err
	}
	return r.reply(req.Key, &response{})
}

func (r *Resource) delete(args []byte) (any, []byte, error) {
	req, err := r.decode(args)
	if err != nil {
		return nil, nil, err
	}
	if err := r.store.Delete(context.Background(), req.Key); err != nil {
		return nil, nil, err
	}
	return r.reply(req.Key, &response{})
}

func (r *Resource) len([]byte) (any, []byte, error) {
	n, err := r.store.Len(context.Background())
	if err != nil {
		return nil, nil, err
	}
	return r.reply(nil, &response{Len: n})
}

func (r *Resource) decode(args []byte) (*request, error) {
	req := &request{}
	if err := r.codec.Decode(args, req); err != nil {
		return nil, errors.Wrap(err, "decode cache request")
	}
	return req, nil
}

func (r *Resource) reply(aux any, resp *response) (any, []byte, error) {
	b, err := r.codec.Encode(resp)
	if err != nil {
		return nil, nil, errors.WithStack(err)
	}
	return aux, b, nil
}
