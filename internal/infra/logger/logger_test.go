package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureProductionUsesJSON(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	configure(l, &buf, "debug", "production")

	l.WithField("schedule_id", "s1").Debug("sweep started")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "sweep started", line["msg"])
	assert.Equal(t, "s1", line["schedule_id"])
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
}

func TestConfigureInvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	configure(l, &buf, "loud", "development")

	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, l.Formatter)
	assert.Contains(t, buf.String(), "Invalid log level 'loud'")
}
