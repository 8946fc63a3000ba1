package main

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-reviewflow/internal/domain"
	"github.com/ahrav/go-reviewflow/pkg/events"
)

func TestApp_LoadBuildsEventSink(t *testing.T) {
	cfgPath := writeConfig(t, "")
	raw, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	debug := strings.Replace(string(raw), "log_level: error", "log_level: debug", 1)
	require.NoError(t, os.WriteFile(cfgPath, []byte(debug), 0o600))

	var errOut bytes.Buffer
	a := &app{v: viper.New(), cfgFile: cfgPath, errOut: &errOut}
	require.NoError(t, a.load(nil, nil))
	require.NotNil(t, a.sink)

	env := events.New(string(domain.EventTypeStepAdvanced), "reviewflow.cli", "p1", "", struct{}{})
	require.NoError(t, a.sink.Append(context.Background(), env))

	logged := errOut.String()
	assert.Contains(t, logged, `"component":"events"`)
	assert.Contains(t, logged, `"type":"StepAdvanced"`)
	assert.Contains(t, logged, `"session_id":"p1"`)
}
