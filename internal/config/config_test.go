package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// ConfigSuite is a test suite for config operations.
type ConfigSuite struct {
	suite.Suite
	tempDir string
}

func (s *ConfigSuite) SetupTest() {
	s.tempDir = s.T().TempDir()
	s.T().Setenv("HOME", s.tempDir)
	s.T().Setenv("CROWDWATCH_DATA_DIR", "")
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

func (s *ConfigSuite) writeSettings(body string) {
	s.Require().NoError(os.MkdirAll(filepath.Join(s.tempDir, ".crowdwatch"), 0750))
	s.Require().NoError(os.WriteFile(filepath.Join(s.tempDir, ".crowdwatch", "settings.json"), []byte(body), 0600))
}

// TestDefault tests default configuration values.
func (s *ConfigSuite) TestDefault() {
	cfg := Default()

	s.Equal(DefaultWorkerPort, cfg.WorkerPort)
	s.Equal(StoreSQLite, cfg.StoreBackend)
	s.Equal(InferenceHTTP, cfg.InferenceBackend)
	s.Equal(5, cfg.AlertMinFrames)
	s.Equal(70.0, cfg.AlertScoreThreshold)
	s.Equal(2, cfg.AlertCriticalFrames)
	s.Equal(5, cfg.ReportRecentFrames)
	s.Equal(3, cfg.ReportAttachments)
	s.True(cfg.ReportGIF)
	s.Equal(DefaultSMTPPort, cfg.SMTPPort)
	s.Empty(cfg.AlertRecipients)
}

func (s *ConfigSuite) TestPaths() {
	s.Equal(filepath.Join(s.tempDir, ".crowdwatch"), DataDir())
	s.Contains(DBPath(), "crowdwatch.db")
	s.Contains(SettingsPath(), "settings.json")
	s.Contains(ZonesPath(), "zones.yaml")

	custom := filepath.Join(s.tempDir, "elsewhere")
	s.T().Setenv("CROWDWATCH_DATA_DIR", custom)
	s.Equal(custom, DataDir())
	s.Equal(filepath.Join(custom, "settings.json"), SettingsPath())
}

// TestEnsureAll tests full initialization.
func (s *ConfigSuite) TestEnsureAll() {
	s.NoError(EnsureAll())

	info, err := os.Stat(DataDir())
	s.NoError(err)
	s.True(info.IsDir())
	_, err = os.Stat(SettingsPath())
	s.NoError(err)

	// Second call leaves the existing file alone
	s.writeSettings(`{"CROWDWATCH_WORKER_PORT": 40000}`)
	s.NoError(EnsureAll())
	cfg, err := Load()
	s.NoError(err)
	s.Equal(40000, cfg.WorkerPort)
}

// TestEnsureSettings_Loadable checks the generated file parses back to defaults.
func (s *ConfigSuite) TestEnsureSettings_Loadable() {
	s.Require().NoError(EnsureAll())
	cfg, err := Load()
	s.Require().NoError(err)
	s.Equal(DefaultWorkerPort, cfg.WorkerPort)
	s.Equal(DefaultInferenceURL, cfg.InferenceURL)
	s.Empty(cfg.AlertRecipients)
}

// TestLoad_TableDriven tests configuration loading with various scenarios.
func (s *ConfigSuite) TestLoad_TableDriven() {
	tests := []struct {
		name          string
		settingsJSON  string
		wantPort      int
		wantStore     string
		wantMinFrames int
	}{
		{
			name:          "no settings file",
			wantPort:      DefaultWorkerPort,
			wantStore:     StoreSQLite,
			wantMinFrames: 5,
		},
		{
			name:          "custom port",
			settingsJSON:  `{"CROWDWATCH_WORKER_PORT": 38888}`,
			wantPort:      38888,
			wantStore:     StoreSQLite,
			wantMinFrames: 5,
		},
		{
			name:          "custom store",
			settingsJSON:  `{"CROWDWATCH_STORE": "redis"}`,
			wantPort:      DefaultWorkerPort,
			wantStore:     StoreRedis,
			wantMinFrames: 5,
		},
		{
			name:          "multiple settings",
			settingsJSON:  `{"CROWDWATCH_WORKER_PORT": 39999, "CROWDWATCH_STORE": "s3", "CROWDWATCH_ALERT_MIN_FRAMES": 8}`,
			wantPort:      39999,
			wantStore:     StoreS3,
			wantMinFrames: 8,
		},
		{
			name:          "numbers as strings",
			settingsJSON:  `{"CROWDWATCH_WORKER_PORT": "39000"}`,
			wantPort:      39000,
			wantStore:     StoreSQLite,
			wantMinFrames: 5,
		},
		{
			name:          "invalid JSON returns defaults",
			settingsJSON:  `{invalid}`,
			wantPort:      DefaultWorkerPort,
			wantStore:     StoreSQLite,
			wantMinFrames: 5,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			_ = os.Remove(SettingsPath())
			if tt.settingsJSON != "" {
				s.writeSettings(tt.settingsJSON)
			}

			cfg, err := Load()
			s.NoError(err)
			s.Require().NotNil(cfg)
			s.Equal(tt.wantPort, cfg.WorkerPort)
			s.Equal(tt.wantStore, cfg.StoreBackend)
			s.Equal(tt.wantMinFrames, cfg.AlertMinFrames)
		})
	}
}

// TestLoad_AlertSettings tests alert and notification keys.
func (s *ConfigSuite) TestLoad_AlertSettings() {
	s.writeSettings(`{
		"CROWDWATCH_ALERT_SCORE_THRESHOLD": 65.5,
		"CROWDWATCH_ALERT_CRITICAL_FRAMES": 3,
		"CROWDWATCH_REPORT_GIF": false,
		"CROWDWATCH_ALERT_RECIPIENTS": "ops@example.com, lead@example.com",
		"CROWDWATCH_SMTP_HOST": "smtp.example.com",
		"CROWDWATCH_S3_PATH_STYLE": true
	}`)

	cfg, err := Load()
	s.Require().NoError(err)
	s.Equal(65.5, cfg.AlertScoreThreshold)
	s.Equal(3, cfg.AlertCriticalFrames)
	s.False(cfg.ReportGIF)
	s.Equal([]string{"ops@example.com", "lead@example.com"}, cfg.AlertRecipients)
	s.Equal("smtp.example.com", cfg.SMTPHost)
	s.True(cfg.S3PathStyle)
}

func (s *ConfigSuite) TestLoad_RecipientsArray() {
	s.writeSettings(`{"CROWDWATCH_ALERT_RECIPIENTS": ["a@example.com", "b@example.com"]}`)

	cfg, err := Load()
	s.Require().NoError(err)
	s.Equal([]string{"a@example.com", "b@example.com"}, cfg.AlertRecipients)
}

// TestLoad_EnvOverridesSettings tests that the environment wins over the file.
func (s *ConfigSuite) TestLoad_EnvOverridesSettings() {
	s.writeSettings(`{"CROWDWATCH_WORKER_PORT": 38888, "CROWDWATCH_INFERENCE_BACKEND": "gemini"}`)
	s.T().Setenv("CROWDWATCH_WORKER_PORT", "39001")
	s.T().Setenv("CROWDWATCH_INFERENCE_MODEL", "gemini-2.0-flash")
	s.T().Setenv("CROWDWATCH_ALERT_MIN_FRAMES", "not-a-number")

	cfg, err := Load()
	s.Require().NoError(err)
	s.Equal(39001, cfg.WorkerPort)
	s.Equal(InferenceGemini, cfg.InferenceBackend)
	s.Equal("gemini-2.0-flash", cfg.InferenceModel)
	s.Equal(5, cfg.AlertMinFrames, "unparsable values are ignored")
}

// TestSplitTrim tests the splitTrim helper function.
func TestSplitTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"empty string", "", []string{}},
		{"single value", "ops@example.com", []string{"ops@example.com"}},
		{"multiple values", "a@x.com,b@x.com", []string{"a@x.com", "b@x.com"}},
		{"values with spaces", " a@x.com , b@x.com ", []string{"a@x.com", "b@x.com"}},
		{"empty values filtered", "a@x.com,,b@x.com,,", []string{"a@x.com", "b@x.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, splitTrim(tt.input))
		})
	}
}

func TestSettingString(t *testing.T) {
	assert.Equal(t, "42", settingString(float64(42)))
	assert.Equal(t, "65.5", settingString(65.5))
	assert.Equal(t, "true", settingString(true))
	assert.Equal(t, "x", settingString("x"))
	assert.Equal(t, "a,b", settingString([]any{"a", "b"}))
}

// TestGetWorkerPort_WithEnv tests GetWorkerPort with environment variable.
func TestGetWorkerPort_WithEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	t.Setenv("CROWDWATCH_WORKER_PORT", "45678")
	assert.Equal(t, 45678, GetWorkerPort())

	// Invalid values fall back to config
	t.Setenv("CROWDWATCH_WORKER_PORT", "not-a-number")
	assert.Greater(t, GetWorkerPort(), 0)

	t.Setenv("CROWDWATCH_WORKER_PORT", "0")
	assert.Greater(t, GetWorkerPort(), 0)
}

// TestGet tests the global config getter.
func TestGet(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg := Get()
	require.NotNil(t, cfg)
	assert.Greater(t, cfg.WorkerPort, 0)
	assert.Same(t, cfg, Get())
}
