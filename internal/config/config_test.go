package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nsocal/internal/audience"
)

func TestLoad_FirstRunWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "nsocal.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// The written file loads back to the same config.
	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoad_PartialFileIsNormalized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nsocal.yaml")
	yml := `
output_dir: /srv/calendars
workers: 4
fetch_timeout: 45s
retries: 2
partitions:
  - name: FGLI
    file: fgli_events.ics
    audiences: [FGLI, ANY]
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/calendars", cfg.OutputDir)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 5, cfg.BatchSize)
	assert.Equal(t, 45*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 2, cfg.Retries)
	assert.Equal(t, "America/New_York", cfg.Timezone)
	require.Len(t, cfg.Partitions, 1)

	set, err := cfg.Partitions[0].AudienceSet()
	require.NoError(t, err)
	assert.Equal(t, audience.NewSet(audience.FGLI, audience.Any), set)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yml  string
	}{
		{"bad yaml", "workers: [1, 2"},
		{"unknown timezone", "timezone: Mars/Olympus_Mons"},
		{"unknown audience", "partitions:\n  - file: a.ics\n    audiences: [Graduate]"},
		{"nested file", "partitions:\n  - file: ../a.ics"},
		{"duplicate file", "partitions:\n  - file: a.ics\n  - file: a.ics"},
		{"empty file", "partitions:\n  - name: nameless"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nsocal.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yml), 0o600))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestDefaultPartitionsMatchPublishedFiles(t *testing.T) {
	parts := DefaultPartitions()
	require.Len(t, parts, 3)

	assert.Equal(t, "general_calendar.ics", parts[0].File)
	assert.Empty(t, parts[0].Audiences)

	assert.Equal(t, "exchange_igsp_events.ics", parts[1].File)
	exchange, err := parts[1].AudienceSet()
	require.NoError(t, err)
	assert.Equal(t, audience.NewSet(audience.ExchangeOrIGSP, audience.Any), exchange)

	assert.Equal(t, "transfer_events.ics", parts[2].File)
	transfer, err := parts[2].AudienceSet()
	require.NoError(t, err)
	assert.Equal(t, audience.NewSet(audience.Transfer, audience.Any), transfer)
}

func TestSave_RejectsBadInput(t *testing.T) {
	assert.Error(t, Save("", DefaultConfig()))
	assert.Error(t, Save(filepath.Join(t.TempDir(), "c.yaml"), nil))
	_, err := Load("")
	assert.Error(t, err)
}
