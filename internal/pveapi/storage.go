package pveapi

import (
	"context"
	"fmt"
)

// Storage groups the cluster-wide storage commands.
type Storage struct {
	c *Client
}

func (c *Client) Storage() Storage { return Storage{c: c} }

func (s Storage) List(ctx context.Context) *Response {
	return s.c.Submit(ctx, Request{Action: "liststorage", Path: "storage"})
}

// ListStorage decodes the cluster storage definitions.
func (s Storage) ListStorage(ctx context.Context) ([]StorageInfo, error) {
	var out []StorageInfo
	if err := s.List(ctx).Decode(&out); err != nil {
		return nil, fmt.Errorf("list storage: %w", err)
	}
	return out, nil
}
