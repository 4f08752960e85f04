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

// Package approval implements C6: pending-approval records with quorum,
// idempotent decisions, TTL expiry, and synchronous wait-for-resolution
// over Redis pub/sub with a poll fallback.
package approval

import (
	"context"
	"encoding/json"
	"time"

	appErrors "github.com/canopyiq/toolgateway/internal/errors"
	"github.com/canopyiq/toolgateway/pkg/redisstore"
	"github.com/redis/go-redis/v9"
)

const (
	defaultTTLSeconds = 900
	pollInterval      = time.Second
)

// Status is the terminal/non-terminal state of a pending approval.
type Status string

const (
	StatusPending Status = "pending"
	StatusAllow   Status = "allow"
	StatusDeny    Status = "deny"
)

// Decision is the caller-supplied vote passed to Decide.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// Record is one pending-approval entry (spec §3 "Pending approval").
type Record struct {
	ID                string          `json:"id"`
	CreatedTS         time.Time       `json:"created_ts"`
	DecidedTS         *time.Time      `json:"decided_ts,omitempty"`
	ExpiresAt         time.Time       `json:"expires_at"`
	Tenant            string          `json:"tenant"`
	Requester         string          `json:"requester"`
	Tool              string          `json:"tool"`
	Args              json.RawMessage `json:"args"`
	Status            Status          `json:"status"`
	RequiredApprovals int             `json:"required_approvals"`
	Approvals         []string        `json:"approvals"`
	Rejections        []string        `json:"rejections"`
	Reason            string          `json:"reason"`
}

// Terminal reports whether the record's status will never change again
// (spec §3: "status transitions are monotonic ... terminal states never
// change").
func (r Record) Terminal() bool { return r.Status == StatusAllow || r.Status == StatusDeny }

// Coordinator implements create/get/decide/wait against Redis.
type Coordinator struct {
	client *redisstore.Client
	now    func() time.Time
}

func New(client *redisstore.Client) *Coordinator {
	return &Coordinator{client: client, now: time.Now}
}

// Create starts a new pending-approval record with a TTL (default 900s).
func (c *Coordinator) Create(ctx context.Context, id, tenant, requester, tool string, args json.RawMessage, requiredApprovals, ttlSec int, reason string) (Record, error) {
	if requiredApprovals < 1 {
		requiredApprovals = 1
	}
	if ttlSec <= 0 {
		ttlSec = defaultTTLSeconds
	}
	now := c.now().UTC()
	rec := Record{
		ID:                id,
		CreatedTS:         now,
		ExpiresAt:         now.Add(time.Duration(ttlSec) * time.Second),
		Tenant:            tenant,
		Requester:         requester,
		Tool:              tool,
		Args:              args,
		Status:            StatusPending,
		RequiredApprovals: requiredApprovals,
		Approvals:         []string{},
		Rejections:        []string{},
		Reason:            reason,
	}
	if err := c.store(ctx, rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Get returns the record, or (Record{}, false, nil) if absent or expired.
func (c *Coordinator) Get(ctx context.Context, id string) (Record, bool, error) {
	raw, err := c.client.Raw().Get(ctx, redisstore.Key(id)).Bytes()
	if err == redis.Nil {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, appErrors.NewUnavailableError("get pending approval", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, false, appErrors.Wrap(err, appErrors.ErrorTypeInternal, "decode pending approval")
	}
	if c.now().UTC().After(rec.ExpiresAt) {
		return Record{}, false, nil
	}
	return rec, true, nil
}

// Decide applies an approver's vote. Idempotent: deciding an already
// terminal record is a no-op that returns the existing record unchanged.
func (c *Coordinator) Decide(ctx context.Context, id, approver string, decision Decision, reason string) (Record, error) {
	key := redisstore.Key(id)
	var result Record
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return appErrors.NewNotFoundError("pending approval")
		}
		if err != nil {
			return appErrors.NewUnavailableError("get pending approval for decide", err)
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return appErrors.Wrap(err, appErrors.ErrorTypeInternal, "decode pending approval")
		}
		now := c.now().UTC()
		if now.After(rec.ExpiresAt) {
			return appErrors.NewNotFoundError("pending approval")
		}

		if rec.Terminal() {
			result = rec
			return nil
		}

		rec.Approvals = remove(rec.Approvals, approver)
		rec.Rejections = remove(rec.Rejections, approver)

		switch decision {
		case DecisionDeny:
			rec.Rejections = append(rec.Rejections, approver)
			rec.Status = StatusDeny
			rec.DecidedTS = &now
		case DecisionAllow:
			rec.Approvals = append(rec.Approvals, approver)
			if len(rec.Approvals) >= rec.RequiredApprovals {
				rec.Status = StatusAllow
				rec.DecidedTS = &now
			}
		default:
			return appErrors.NewValidationError("decision must be allow or deny")
		}
		if reason != "" {
			rec.Reason = reason
		}

		newRaw, err := json.Marshal(rec)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrorTypeInternal, "encode pending approval")
		}
		ttl := time.Until(rec.ExpiresAt)
		if ttl <= 0 {
			ttl = time.Second
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newRaw, ttl)
			pipe.Publish(ctx, redisstore.Channel(id), string(rec.Status))
			return nil
		})
		if err != nil {
			return appErrors.NewUnavailableError("persist decided approval", err)
		}
		result = rec
		return nil
	}

	if err := c.client.Raw().Watch(ctx, txf, key); err != nil {
		return Record{}, asAppError(err)
	}
	return result, nil
}

// Wait blocks until the record is terminal or timeoutSec elapses, whichever
// comes first, re-reading on every pub/sub message and on a 1s poll
// fallback.
func (c *Coordinator) Wait(ctx context.Context, id string, timeoutSec int) (Record, bool, error) {
	rec, ok, err := c.Get(ctx, id)
	if err != nil || !ok || rec.Terminal() {
		return rec, ok, err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
	defer cancel()

	sub := c.client.Raw().Subscribe(ctx, redisstore.Channel(id))
	defer sub.Close()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			rec, ok, err := c.Get(context.Background(), id)
			return rec, ok, err
		case <-sub.Channel():
			rec, ok, err := c.Get(ctx, id)
			if err != nil || !ok {
				return rec, ok, err
			}
			if rec.Terminal() {
				return rec, true, nil
			}
		case <-ticker.C:
			rec, ok, err := c.Get(ctx, id)
			if err != nil || !ok {
				return rec, ok, err
			}
			if rec.Terminal() {
				return rec, true, nil
			}
		}
	}
}

func (c *Coordinator) store(ctx context.Context, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrorTypeInternal, "encode pending approval")
	}
	ttl := time.Until(rec.ExpiresAt)
	if err := c.client.Raw().Set(ctx, redisstore.Key(rec.ID), raw, ttl).Err(); err != nil {
		return appErrors.NewUnavailableError("create pending approval", err)
	}
	return nil
}

func remove(set []string, value string) []string {
	out := make([]string, 0, len(set))
	for _, v := range set {
		if v != value {
			out = append(out, v)
		}
	}
	return out
}

func asAppError(err error) error {
	if err == nil {
		return nil
	}
	if ae, ok := err.(*appErrors.AppError); ok {
		return ae
	}
	return appErrors.NewUnavailableError("approval transaction", err)
}
