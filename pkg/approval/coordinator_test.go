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

package approval

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/canopyiq/toolgateway/pkg/redisstore"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"
)

func TestApproval(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Approval Coordinator Suite")
}

func newCoordinator() (*Coordinator, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	Expect(err).NotTo(HaveOccurred())
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(redisstore.New(rdb)), mr
}

var _ = Describe("Coordinator", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("creates a pending record and reads it back", func() {
		c, mr := newCoordinator()
		defer mr.Close()

		rec, err := c.Create(ctx, "p1", "acme", "alice", "cloud.ops", nil, 1, 900, "high cost")
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.Status).To(Equal(StatusPending))

		got, ok, err := c.Get(ctx, "p1")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(got.Tenant).To(Equal("acme"))
	})

	It("returns not-found after TTL expiry", func() {
		c, mr := newCoordinator()
		defer mr.Close()

		_, err := c.Create(ctx, "p1", "acme", "alice", "cloud.ops", nil, 1, 1, "x")
		Expect(err).NotTo(HaveOccurred())

		mr.FastForward(2 * time.Second)

		_, ok, err := c.Get(ctx, "p1")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("reaches quorum of 2 only once both approvers decide", func() {
		c, mr := newCoordinator()
		defer mr.Close()

		_, err := c.Create(ctx, "p1", "acme", "alice", "cloud.ops", nil, 2, 900, "high cost")
		Expect(err).NotTo(HaveOccurred())

		rec, err := c.Decide(ctx, "p1", "alice", DecisionAllow, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.Status).To(Equal(StatusPending))

		rec, err = c.Decide(ctx, "p1", "bob", DecisionAllow, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.Status).To(Equal(StatusAllow))
	})

	It("is idempotent once terminal", func() {
		c, mr := newCoordinator()
		defer mr.Close()

		_, err := c.Create(ctx, "p1", "acme", "alice", "cloud.ops", nil, 1, 900, "x")
		Expect(err).NotTo(HaveOccurred())

		rec, err := c.Decide(ctx, "p1", "alice", DecisionAllow, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.Status).To(Equal(StatusAllow))

		rec2, err := c.Decide(ctx, "p1", "alice", DecisionAllow, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(rec2.Approvals).To(HaveLen(1))
		Expect(rec2.Status).To(Equal(StatusAllow))
	})

	It("allows an approver to change their mind before quorum is reached", func() {
		c, mr := newCoordinator()
		defer mr.Close()

		_, err := c.Create(ctx, "p1", "acme", "alice", "cloud.ops", nil, 2, 900, "x")
		Expect(err).NotTo(HaveOccurred())

		rec, err := c.Decide(ctx, "p1", "alice", DecisionAllow, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.Status).To(Equal(StatusPending))
		Expect(rec.Approvals).To(ContainElement("alice"))

		rec, err = c.Decide(ctx, "p1", "alice", DecisionDeny, "changed my mind")
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.Approvals).NotTo(ContainElement("alice"))
		Expect(rec.Rejections).To(ContainElement("alice"))
		Expect(rec.Status).To(Equal(StatusDeny))
	})

	It("wait returns immediately once a concurrent decide resolves the record", func() {
		c, mr := newCoordinator()
		defer mr.Close()

		_, err := c.Create(ctx, "p1", "acme", "alice", "cloud.ops", nil, 1, 900, "x")
		Expect(err).NotTo(HaveOccurred())

		go func() {
			time.Sleep(50 * time.Millisecond)
			_, _ = c.Decide(context.Background(), "p1", "alice", DecisionAllow, "")
		}()

		rec, ok, err := c.Wait(ctx, "p1", 5)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(rec.Status).To(Equal(StatusAllow))
	})
})
