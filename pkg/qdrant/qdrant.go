package qdrant

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
)

// Config binds QDRANT_* variables.
type Config struct {
	Host       string `split_words:"true" default:"localhost"`
	Port       int    `split_words:"true" default:"6334"`
	APIKey     string `envconfig:"QDRANT_API_KEY"`
	UseTLS     bool   `envconfig:"QDRANT_USE_TLS" default:"false"`
	Collection string `split_words:"true" default:"crop_by_state_data_malaysia"`
}

// New connects to Qdrant over gRPC and checks that the collection exists.
func (c *Config) New(ctx context.Context) (*qdrant.Client, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   c.Host,
		Port:   c.Port,
		APIKey: c.APIKey,
		UseTLS: c.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connect qdrant: %w", err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exists, err := client.CollectionExists(checkCtx, c.Collection)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("check collection %s: %w", c.Collection, err)
	}
	if !exists {
		client.Close()
		return nil, fmt.Errorf("qdrant collection %s not found", c.Collection)
	}
	return client, nil
}
