package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() Config {
	return Config{
		Port:                   3000,
		DefaultDuration:        596,
		ConnAdmissionThreshold: 20,
		LogLevel:               "info",
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	c := validConfig()
	assert.NoError(t, c.Validate())
}

func TestValidateRejectsBadPort(t *testing.T) {
	c := validConfig()
	c.Port = 0
	assert.Error(t, c.Validate())

	c.Port = 70000
	assert.Error(t, c.Validate())
}

func TestValidateRejectsNonPositiveDuration(t *testing.T) {
	c := validConfig()
	c.DefaultDuration = 0
	assert.Error(t, c.Validate())
}

func TestValidateRejectsThresholdBelowOne(t *testing.T) {
	c := validConfig()
	c.ConnAdmissionThreshold = 0
	assert.Error(t, c.Validate())
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	c := validConfig()
	c.LogLevel = "verbose"
	assert.Error(t, c.Validate())
}

func TestClusterModeReflectsKVURL(t *testing.T) {
	c := validConfig()
	assert.False(t, c.ClusterMode())

	c.KVURL = "nats://localhost:4222"
	assert.True(t, c.ClusterMode())
}
