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

package log

import (
	"errors"
	"testing"
	"time"
)

func TestNewFieldsEmpty(t *testing.T) {
	f := NewFields()
	if len(f) != 0 {
		t.Fatalf("expected empty field set, got %d entries", len(f))
	}
}

func TestFieldsComponentAndOperation(t *testing.T) {
	f := NewFields().Component("policy-engine").Operation("evaluate")
	if f["component"] != "policy-engine" {
		t.Errorf("component = %v", f["component"])
	}
	if f["operation"] != "evaluate" {
		t.Errorf("operation = %v", f["operation"])
	}
}

func TestFieldsTenantEmptyOmitted(t *testing.T) {
	f := NewFields().Tenant("")
	if _, ok := f["tenant"]; ok {
		t.Error("empty tenant should not set the field")
	}
}

func TestFieldsDuration(t *testing.T) {
	f := NewFields().Duration(150 * time.Millisecond)
	if f["duration_ms"] != int64(150) {
		t.Errorf("duration_ms = %v", f["duration_ms"])
	}
}

func TestFieldsErrorNil(t *testing.T) {
	f := NewFields().Error(nil)
	if _, ok := f["error"]; ok {
		t.Error("Error(nil) should not set the field")
	}
}

func TestFieldsErrorSet(t *testing.T) {
	f := NewFields().Error(errors.New("boom"))
	if f["error"] != "boom" {
		t.Errorf("error = %v", f["error"])
	}
}

func TestNewLoggerDefaultsToInfoJSON(t *testing.T) {
	logger := NewLogger(Options{})
	if logger.GetLevel().String() != "info" {
		t.Errorf("level = %v", logger.GetLevel())
	}
}

func TestNewLoggerParsesLevel(t *testing.T) {
	logger := NewLogger(Options{Level: "debug"})
	if logger.GetLevel().String() != "debug" {
		t.Errorf("level = %v", logger.GetLevel())
	}
}
