package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/link-checkout/internal/cmdutils"
)

func TestRootCmd(t *testing.T) {
	var gracefulShutdown time.Duration
	cmd := rootCmd("{}", &gracefulShutdown)

	tests := []struct {
		name        string
		wantService bool
	}{
		{name: "version"},
		{name: "sandbox"},
		{name: "bridge", wantService: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{tt.name})
			require.NoError(t, err)
			assert.Equal(t, tt.name, sub.Name())
			assert.Equal(t, tt.wantService, cmdutils.IsService(sub))
		})
	}

	flag := cmd.PersistentFlags().Lookup("graceful-shutdown")
	require.NotNil(t, flag)
	assert.Equal(t, "1s", flag.DefValue)
}

func TestVersionCmd(t *testing.T) {
	tests := []struct {
		name      string
		buildInfo string
		want      string
	}{
		{name: "plain", buildInfo: `{"version":"1.0"}`, want: `{"version":"1.0"}`},
		{name: "base64", buildInfo: "base64(eyJ2ZXJzaW9uIjoiMS4wIn0=)", want: `{"version":"1.0"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gracefulShutdown time.Duration
			root := rootCmd(tt.buildInfo, &gracefulShutdown)

			var out bytes.Buffer
			root.SetOut(&out)
			root.SetArgs([]string{"version"})

			require.NoError(t, root.ExecuteContext(t.Context()))
			assert.Equal(t, tt.want+"\n", out.String())
		})
	}
}

func TestExecute_VersionReturnsAtOnce(t *testing.T) {
	start := time.Now()
	err := execute(t.Context(), []string{"version", "--graceful-shutdown", "10s"})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second, "only services wait for the graceful shutdown")
}

func TestExecute_UnknownCommand(t *testing.T) {
	assert.Error(t, execute(t.Context(), []string{"does-not-exist"}))
}
