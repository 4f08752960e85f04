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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestConfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Config Suite")
}

var _ = Describe("Config", func() {
	var (
		tempDir    string
		configFile string
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "config-test")
		Expect(err).NotTo(HaveOccurred())
		configFile = filepath.Join(tempDir, "config.yaml")
	})

	AfterEach(func() {
		os.RemoveAll(tempDir)
	})

	Describe("Load", func() {
		Context("when the config file has full content", func() {
			BeforeEach(func() {
				full := `
server:
  http_addr: ":9443"
  stdio_enabled: true

policy:
  default_bundle_path: "/etc/toolgateway/bundle.yaml"
  require_signature: true
  pubkey_b64: "abc123"

redis:
  addr: "redis:6379"
  db: 2

sql:
  dsn: "postgres://user:pass@db/toolgateway"

auth:
  issuer: "https://issuer.example.com"
  audience: "toolgateway"
  jwks_url: "https://issuer.example.com/.well-known/jwks.json"
  dev_hs256_secret: "dev-secret"

webhook:
  signing_secret: "wh-secret"
  tolerance: 300s

signed_url:
  secret: "url-secret"
  tolerance: 300s

approval_wait:
  default_timeout: 30s

logging:
  level: "debug"
  format: "json"

tracing:
  enabled: true
  service_name: "toolgateway"
`
				Expect(os.WriteFile(configFile, []byte(full), 0644)).To(Succeed())
			})

			It("loads every section", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.Server.HTTPAddr).To(Equal(":9443"))
				Expect(cfg.Server.StdioEnable).To(BeTrue())
				Expect(cfg.Policy.RequireSignature).To(BeTrue())
				Expect(cfg.Redis.Addr).To(Equal("redis:6379"))
				Expect(cfg.Redis.DB).To(Equal(2))
				Expect(cfg.SQL.DSN).To(Equal("postgres://user:pass@db/toolgateway"))
				Expect(cfg.Auth.JWKSURL).To(Equal("https://issuer.example.com/.well-known/jwks.json"))
				Expect(cfg.Webhook.Tolerance).To(Equal(300 * time.Second))
				Expect(cfg.ApprovalWait.DefaultTimeout).To(Equal(30 * time.Second))
				Expect(cfg.Logging.Level).To(Equal("debug"))
				Expect(cfg.Tracing.Enabled).To(BeTrue())
			})
		})

		Context("when the config file has minimal content", func() {
			BeforeEach(func() {
				minimal := `
sql:
  dsn: "postgres://user:pass@db/toolgateway"
redis:
  addr: "localhost:6379"
`
				Expect(os.WriteFile(configFile, []byte(minimal), 0644)).To(Succeed())
			})

			It("fills in defaults for everything else", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.Server.HTTPAddr).To(Equal(":8443"))
				Expect(cfg.Policy.DefaultBundlePath).To(Equal("__builtin__"))
				Expect(cfg.Webhook.Tolerance).To(Equal(300 * time.Second))
				Expect(cfg.Logging.Level).To(Equal("info"))
			})
		})

		Context("when required fields are missing", func() {
			It("fails validation when sql.dsn is absent", func() {
				Expect(os.WriteFile(configFile, []byte("redis:\n  addr: localhost:6379\n"), 0644)).To(Succeed())
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("sql.dsn"))
			})
		})

		Context("when the file does not exist", func() {
			It("returns an error", func() {
				_, err := Load(filepath.Join(tempDir, "missing.yaml"))
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to read config file"))
			})
		})

		Context("when the file has invalid YAML", func() {
			It("returns a parse error", func() {
				Expect(os.WriteFile(configFile, []byte("not: [valid: yaml"), 0644)).To(Succeed())
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to parse config file"))
			})
		})

		Context("with environment overrides", func() {
			It("lets GATEWAY_* env vars override the file", func() {
				minimal := "sql:\n  dsn: \"file-dsn\"\nredis:\n  addr: \"localhost:6379\"\n"
				Expect(os.WriteFile(configFile, []byte(minimal), 0644)).To(Succeed())

				os.Setenv("GATEWAY_SQL_DSN", "env-dsn")
				defer os.Unsetenv("GATEWAY_SQL_DSN")

				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.SQL.DSN).To(Equal("env-dsn"))
			})
		})
	})
})
