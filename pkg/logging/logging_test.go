package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/vnykmshr/taskpool/internal/testutil"
)

func TestLoad(t *testing.T) {
	t.Setenv(envLogLevel, "debug")
	t.Setenv(envLogFormat, "JSON")

	cfg := Load()
	testutil.AssertEqual(t, cfg.Level, logrus.DebugLevel)
	testutil.AssertEqual(t, cfg.Format, "json")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"WARN", logrus.WarnLevel},
		{" error ", logrus.ErrorLevel},
		{"bogus", logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			testutil.AssertEqual(t, ParseLevel(tt.in), tt.want)
		})
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: logrus.InfoLevel, Format: "json", Output: &buf})

	logger.WithField("pool", "ingest").Info("worker started")
	logger.Debug("dropped")

	var entry map[string]interface{}
	testutil.AssertNoError(t, json.Unmarshal(buf.Bytes(), &entry))
	testutil.AssertEqual(t, entry["pool"].(string), "ingest")
	testutil.AssertEqual(t, entry["msg"].(string), "worker started")
}
