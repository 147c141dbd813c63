package cache

import (
	"context"
	"time"

	"crm-rpc/client"
	"crm-rpc/codec"

	"github.com/pkg/errors"
)

// RemoteStore implements Store by calling a server that exposes a Resource.
type RemoteStore struct {
	client  *client.Client
	address string
	timeout time.Duration
	codec   codec.Codec
}

func NewRemoteStore(c *client.Client, address string, timeout time.Duration) *RemoteStore {
	return &RemoteStore{
		client:  c,
		address: address,
		timeout: timeout,
		codec:   codec.GetCodec(codec.CodecTypeJSON),
	}
}

func (s *RemoteStore) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.call(ctx, MethodGet, &request{Key: key})
	if err != nil {
		return nil, err
	}
	if !resp.Found {
		return nil, errors.Wrap(ErrNotFound, key)
	}
	return resp.Value, nil
}

func (s *RemoteStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.call(ctx, MethodPut, &request{Key: key, Value: value})
	return err
}

func (s *RemoteStore) Delete(ctx context.Context, key string) error {
	_, err := s.call(ctx, MethodDelete, &request{Key: key})
	return err
}

func (s *RemoteStore) Len(ctx context.Context) (int, error) {
	resp, err := s.call(ctx, MethodLen, &request{})
	if err != nil {
		return 0, err
	}
	return resp.Len, nil
}

func (s *RemoteStore) call(ctx context.Context, method string, req *request) (*response, error) {
	args, err := s.codec.Encode(req)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	reply, err := s.client.Call(ctx, s.address, method, args, s.timeout)
	if err != nil {
		return nil, err
	}
	resp := &response{}
	if err := s.codec.Decode(reply, resp); err != nil {
		return nil, errors.Wrapf(err, "decode %s reply", method)
	}
	return resp, nil
}
