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

// Package log wraps logrus with the gateway's standard field vocabulary so
// every component logs the same shape of structured fields.
package log

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Options configures a new logger.
type Options struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "json" or "text"
}

// NewLogger builds a logrus.Logger configured per Options, defaulting to
// info/json when a field is empty or unrecognized.
func NewLogger(opts Options) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	switch opts.Format {
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	}

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

// Fields is a chainable builder for the gateway's standard logrus fields.
// It mirrors the accessor pattern used throughout the component design: a
// narrow, typed surface rather than callers building logrus.Fields by hand.
type Fields logrus.Fields

// NewFields returns an empty field set.
func NewFields() Fields { return Fields{} }

func (f Fields) Component(name string) Fields {
	f["component"] = name
	return f
}

func (f Fields) Operation(name string) Fields {
	f["operation"] = name
	return f
}

func (f Fields) Tenant(tenant string) Fields {
	if tenant != "" {
		f["tenant"] = tenant
	}
	return f
}

func (f Fields) Subject(subject string) Fields {
	if subject != "" {
		f["subject"] = subject
	}
	return f
}

func (f Fields) Tool(tool string) Fields {
	if tool != "" {
		f["tool"] = tool
	}
	return f
}

func (f Fields) Decision(decision string) Fields {
	if decision != "" {
		f["decision"] = decision
	}
	return f
}

func (f Fields) RequestID(id string) Fields {
	if id != "" {
		f["request_id"] = id
	}
	return f
}

func (f Fields) Duration(d time.Duration) Fields {
	f["duration_ms"] = d.Milliseconds()
	return f
}

func (f Fields) Error(err error) Fields {
	if err != nil {
		f["error"] = err.Error()
	}
	return f
}

// Logrus converts to the logrus.Fields type expected by logger.WithFields.
func (f Fields) Logrus() logrus.Fields { return logrus.Fields(f) }
