package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbirk/svchost/pkg/address"
	"github.com/kbirk/svchost/pkg/config"
	"github.com/kbirk/svchost/pkg/log"
)

func queueSettings(settings map[string]string) (*config.Provider, *address.Resolver) {
	provider := config.NewProvider(config.ProviderConfig{
		Source: &config.Document{AppSettings: settings},
	})
	return provider, address.NewResolver(address.ResolverConfig{Provider: provider})
}

func TestConnectQueueURLOrder(t *testing.T) {
	defer func(prev string) { queueURL = prev }(queueURL)

	provider, resolver := queueSettings(map[string]string{
		config.KeyHostName: "localhost",
		config.KeyQueueURL: "nats://localhost:9998",
	})

	queueURL = "nats://localhost:9999"
	_, _, err := connectQueue(provider, resolver, log.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nats://localhost:9999")

	queueURL = ""
	_, _, err = connectQueue(provider, resolver, log.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nats://localhost:9998")
}

func TestConnectQueueDefaultsToQueueHost(t *testing.T) {
	defer func(prev string) { queueURL = prev }(queueURL)
	queueURL = ""

	provider, resolver := queueSettings(map[string]string{config.KeyHostName: "localhost"})
	url, nc, err := connectQueue(provider, resolver, log.Nop())
	if err != nil {
		assert.Contains(t, err.Error(), "nats://localhost:4222")
		return
	}
	defer nc.Close()
	assert.Equal(t, "nats://localhost:4222", url)
}
