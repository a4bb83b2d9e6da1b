// Copyright 2025 MediaForge
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logger

import (
	"bytes"
	"encoding/json"
	"log"
	"os"
	"strings"
	"testing"
	"time"
)

// TestNew tests logger initialization
func TestNew(t *testing.T) {
	tests := []struct {
		name           string
		component      string
		instanceID     string
		expectedComp   string
		expectedInstID string
	}{
		{
			name:           "with instance ID set",
			component:      "test-component",
			instanceID:     "instance-123",
			expectedComp:   "test-component",
			expectedInstID: "instance-123",
		},
		{
			name:           "without instance ID",
			component:      "orchestrator",
			instanceID:     "",
			expectedComp:   "orchestrator",
			expectedInstID: "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.instanceID != "" {
				t.Setenv("INSTANCE_ID", tt.instanceID)
			} else {
				t.Setenv("INSTANCE_ID", "")
			}

			logger := New(tt.component)

			if logger.Component != tt.expectedComp {
				t.Errorf("Expected component %s, got %s", tt.expectedComp, logger.Component)
			}

			if logger.InstanceID != tt.expectedInstID {
				t.Errorf("Expected instance ID %s, got %s", tt.expectedInstID, logger.InstanceID)
			}

			if logger.Container == "" {
				t.Error("Expected container to be set from hostname")
			}
		})
	}
}

// captureEntry parses the single JSON log line written during fn.
func captureEntry(t *testing.T, fn func()) *LogEntry {
	t.Helper()

	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	fn()

	output := buf.String()
	jsonStart := strings.Index(output, "{")
	if jsonStart == -1 {
		return nil
	}

	var entry LogEntry
	jsonStr := strings.TrimSpace(output[jsonStart:])
	if err := json.Unmarshal([]byte(jsonStr), &entry); err != nil {
		t.Fatalf("Failed to parse JSON log: %v\nOutput: %s", err, output)
	}
	return &entry
}

// TestLogLevels tests all log level methods
func TestLogLevels(t *testing.T) {
	tests := []struct {
		name      string
		logFunc   func(*Logger, string, string, map[string]interface{})
		level     LogLevel
		message   string
		requestID string
		fields    map[string]interface{}
	}{
		{
			name:      "Info log",
			logFunc:   (*Logger).Info,
			level:     INFO,
			message:   "Test info message",
			requestID: "req-456",
			fields:    map[string]interface{}{"key": "value"},
		},
		{
			name:      "Error log",
			logFunc:   (*Logger).Error,
			level:     ERROR,
			message:   "Test error message",
			requestID: "req-012",
			fields:    map[string]interface{}{"error_code": 500},
		},
		{
			name:      "Warn log",
			logFunc:   (*Logger).Warn,
			level:     WARN,
			message:   "Test warning message",
			requestID: "req-def",
			fields:    nil,
		},
		{
			name:      "Debug log",
			logFunc:   (*Logger).Debug,
			level:     DEBUG,
			message:   "Test debug message",
			requestID: "req-uvw",
			fields:    map[string]interface{}{"debug_info": true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// DEBUG entries are dropped at the default level
			t.Setenv("LOG_LEVEL", "DEBUG")
			logger := New("test-component")

			entry := captureEntry(t, func() {
				tt.logFunc(logger, tt.requestID, tt.message, tt.fields)
			})
			if entry == nil {
				t.Fatal("No JSON found in log output")
			}

			if entry.Level != tt.level {
				t.Errorf("Expected level %s, got %s", tt.level, entry.Level)
			}

			if entry.Message != tt.message {
				t.Errorf("Expected message '%s', got '%s'", tt.message, entry.Message)
			}

			if entry.RequestID != tt.requestID {
				t.Errorf("Expected request ID '%s', got '%s'", tt.requestID, entry.RequestID)
			}

			if entry.Component != "test-component" {
				t.Errorf("Expected component 'test-component', got '%s'", entry.Component)
			}

			if _, err := time.Parse(time.RFC3339Nano, entry.Timestamp); err != nil {
				t.Errorf("Invalid timestamp format: %s", entry.Timestamp)
			}

			for key, expectedValue := range tt.fields {
				actualValue, ok := entry.Fields[key]
				if !ok {
					t.Errorf("Expected field '%s' not found", key)
					continue
				}
				// JSON unmarshals numbers as float64
				if expected, isInt := expectedValue.(int); isInt {
					if actual, isFloat := actualValue.(float64); !isFloat || int(actual) != expected {
						t.Errorf("Field '%s': expected %v, got %v", key, expectedValue, actualValue)
					}
					continue
				}
				if actualValue != expectedValue {
					t.Errorf("Field '%s': expected %v, got %v", key, expectedValue, actualValue)
				}
			}
		})
	}
}

// TestLevelFiltering verifies entries below LOG_LEVEL are dropped
func TestLevelFiltering(t *testing.T) {
	t.Setenv("LOG_LEVEL", "WARN")
	logger := New("test-component")

	if entry := captureEntry(t, func() {
		logger.Info("req-1", "Should be dropped", nil)
	}); entry != nil {
		t.Errorf("Expected INFO entry to be dropped, got %+v", entry)
	}

	entry := captureEntry(t, func() {
		logger.Warn("req-2", "Should be emitted", nil)
	})
	if entry == nil {
		t.Fatal("Expected WARN entry to be emitted")
	}
	if entry.Level != WARN {
		t.Errorf("Expected level WARN, got %s", entry.Level)
	}
}

// TestDebugDroppedByDefault verifies the default minimum level is INFO
func TestDebugDroppedByDefault(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	logger := New("test-component")

	if entry := captureEntry(t, func() {
		logger.Debug("req-1", "Should be dropped", nil)
	}); entry != nil {
		t.Errorf("Expected DEBUG entry to be dropped, got %+v", entry)
	}
}

// TestInfoWithDuration tests the InfoWithDuration helper method
func TestInfoWithDuration(t *testing.T) {
	logger := New("test-component")

	entry := captureEntry(t, func() {
		logger.InfoWithDuration("req-9", "Request completed", 123.5, map[string]interface{}{
			"backend": "sdxl-cluster",
		})
	})
	if entry == nil {
		t.Fatal("No JSON found in log output")
	}

	if entry.Level != INFO {
		t.Errorf("Expected level INFO, got %s", entry.Level)
	}
	if got, ok := entry.Fields["duration_ms"].(float64); !ok || got != 123.5 {
		t.Errorf("Expected duration_ms 123.5, got %v", entry.Fields["duration_ms"])
	}
	if entry.Fields["backend"] != "sdxl-cluster" {
		t.Errorf("Expected backend field to survive, got %v", entry.Fields["backend"])
	}
}

// TestErrorWithCode tests the ErrorWithCode helper method
func TestErrorWithCode(t *testing.T) {
	logger := New("test-component")

	entry := captureEntry(t, func() {
		logger.ErrorWithCode("req-10", "Request failed", 502, os.ErrDeadlineExceeded, nil)
	})
	if entry == nil {
		t.Fatal("No JSON found in log output")
	}

	if entry.Level != ERROR {
		t.Errorf("Expected level ERROR, got %s", entry.Level)
	}
	if got, ok := entry.Fields["status_code"].(float64); !ok || int(got) != 502 {
		t.Errorf("Expected status_code 502, got %v", entry.Fields["status_code"])
	}
	if entry.Fields["error"] == "" {
		t.Error("Expected error field to be set")
	}
}
