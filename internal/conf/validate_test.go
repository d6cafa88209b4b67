package conf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings() *Settings {
	s := &Settings{}
	s.Store.SQLite.Enabled = true
	s.Store.SQLite.Path = "qagate.db"
	s.Bus.BufferSize = 1024
	s.Bus.Workers = 2
	s.Bus.MaxAttempts = 3
	s.Bus.BackoffInitial = 100 * time.Millisecond
	s.Bus.BackoffMax = 10 * time.Second
	s.WebServer.Enabled = true
	s.WebServer.Port = "8320"
	return s
}

func TestValidateSettingsOK(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateSettings(validSettings()))
}

func TestValidateSettingsRejectsDualStores(t *testing.T) {
	t.Parallel()

	s := validSettings()
	s.Store.MySQL.Enabled = true
	s.Store.MySQL.Database = "qagate"
	s.Store.MySQL.Host = "localhost"
	s.Store.MySQL.Port = "3306"

	err := ValidateSettings(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestValidateSettingsRejectsBadPort(t *testing.T) {
	t.Parallel()

	s := validSettings()
	s.WebServer.Port = "not-a-port"

	assert.Error(t, ValidateSettings(s))
}

func TestValidateSettingsRejectsBadBackoff(t *testing.T) {
	t.Parallel()

	s := validSettings()
	s.Bus.BackoffMax = time.Millisecond
	s.Bus.BackoffInitial = time.Second

	assert.Error(t, ValidateSettings(s))
}

func TestValidateBrokerRequiresURL(t *testing.T) {
	t.Parallel()

	s := validSettings()
	s.Broker.Enabled = true
	s.Broker.TopicPrefix = "esg/qa"

	assert.Error(t, ValidateSettings(s))
}
