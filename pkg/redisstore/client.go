/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package redisstore provides the Redis connection the Approval
// Coordinator (C6) is built on: a Client wrapping *redis.Client, plus the
// key and channel naming for pending approvals. The coordinator issues its
// own key-value-with-TTL and pub/sub commands on the client Raw returns.
package redisstore

import (
	"context"
	"fmt"

	appErrors "github.com/canopyiq/toolgateway/internal/errors"
	"github.com/redis/go-redis/v9"
)

// Client wraps *redis.Client with connection lifecycle (Close, Ping); the
// underlying go-redis client is exposed through Raw.
type Client struct {
	rdb *redis.Client
}

func Open(addr string) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	return &Client{rdb: rdb}, nil
}

// New wraps an already-constructed *redis.Client (tests supply a
// miniredis-backed client here).
func New(rdb *redis.Client) *Client { return &Client{rdb: rdb} }

func (c *Client) Close() error { return c.rdb.Close() }

func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return appErrors.NewUnavailableError("ping redis", err)
	}
	return nil
}

// Raw exposes the underlying client for the coordinator's WATCH/MULTI/EXEC
// transaction and pub/sub needs, which don't fit a narrower interface.
func (c *Client) Raw() *redis.Client { return c.rdb }

// Key builds the storage key for a pending approval id.
func Key(id string) string { return fmt.Sprintf("appr:%s", id) }

// Channel builds the pub/sub channel name for a pending approval id.
func Channel(id string) string { return fmt.Sprintf("appr:notify:%s", id) }
