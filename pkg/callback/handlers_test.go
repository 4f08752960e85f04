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

package callback

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/canopyiq/toolgateway/pkg/approval"
	"github.com/canopyiq/toolgateway/pkg/redisstore"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func TestCallbackHandlers(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Callback Handlers Suite")
}

func newHandlerFixture() (*Handlers, *approval.Coordinator, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	Expect(err).NotTo(HaveOccurred())
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	coordinator := approval.New(redisstore.New(rdb))

	verifier := NewVerifier("s3cret", 300)
	logger := logrus.New()
	logger.SetOutput(ginkgoWriterAdapter{})

	return NewHandlers(verifier, coordinator, nil, logger), coordinator, mr
}

type ginkgoWriterAdapter struct{}

func (ginkgoWriterAdapter) Write(p []byte) (int, error) { return GinkgoWriter.Write(p) }

func signWebhook(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%d:%s", ts, body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

var _ = Describe("HandleChatCallback", func() {
	It("approves a pending request from a form-encoded chat payload", func() {
		h, coordinator, mr := newHandlerFixture()
		defer mr.Close()

		ctx := context.Background()
		_, err := coordinator.Create(ctx, "p1", "acme", "alice", "cloud.ops", nil, 1, 900, "high cost")
		Expect(err).NotTo(HaveOccurred())

		payload, err := json.Marshal(map[string]any{
			"actions": []map[string]any{{"action_id": "approve", "value": "p1"}},
			"user":    map[string]any{"username": "bob"},
		})
		Expect(err).NotTo(HaveOccurred())
		form := url.Values{"payload": {string(payload)}}.Encode()

		now := time.Now().Unix()
		sig := signWebhook("s3cret", now, []byte(form))

		req := httptest.NewRequest(http.MethodPost, "/callback/chat", strings.NewReader(form))
		req.Header.Set("X-Request-Timestamp", fmt.Sprintf("%d", now))
		req.Header.Set("X-Request-Signature", sig)
		rec := httptest.NewRecorder()

		h.HandleChatCallback(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		got, ok, err := coordinator.Get(ctx, "p1")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(got.Status).To(Equal(approval.StatusAllow))
		Expect(got.Approvals).To(ContainElement("bob"))
	})

	It("denies a pending request when action_id is deny", func() {
		h, coordinator, mr := newHandlerFixture()
		defer mr.Close()

		ctx := context.Background()
		_, err := coordinator.Create(ctx, "p2", "acme", "alice", "cloud.ops", nil, 1, 900, "high cost")
		Expect(err).NotTo(HaveOccurred())

		payload, err := json.Marshal(map[string]any{
			"actions": []map[string]any{{"action_id": "deny", "value": "p2"}},
			"user":    map[string]any{"id": "U123"},
		})
		Expect(err).NotTo(HaveOccurred())
		form := url.Values{"payload": {string(payload)}}.Encode()

		now := time.Now().Unix()
		sig := signWebhook("s3cret", now, []byte(form))

		req := httptest.NewRequest(http.MethodPost, "/callback/chat", strings.NewReader(form))
		req.Header.Set("X-Request-Timestamp", fmt.Sprintf("%d", now))
		req.Header.Set("X-Request-Signature", sig)
		rec := httptest.NewRecorder()

		h.HandleChatCallback(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		got, ok, err := coordinator.Get(ctx, "p2")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(got.Status).To(Equal(approval.StatusDeny))
		Expect(got.Rejections).To(ContainElement("U123"))
	})

	It("rejects a request with a bad signature before touching the coordinator", func() {
		h, _, mr := newHandlerFixture()
		defer mr.Close()

		form := url.Values{"payload": {`{"actions":[{"action_id":"approve","value":"p1"}],"user":{"username":"bob"}}`}}.Encode()
		req := httptest.NewRequest(http.MethodPost, "/callback/chat", strings.NewReader(form))
		req.Header.Set("X-Request-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))
		req.Header.Set("X-Request-Signature", "v0=deadbeef")
		rec := httptest.NewRecorder()

		h.HandleChatCallback(rec, req)

		Expect(rec.Code).To(Equal(http.StatusUnauthorized))
	})
})
