package db

import (
	"context"
	"testing"
	"time"

	"github.com/hilthontt/socialbook/internal/infrastructure/configs"
	"github.com/hilthontt/socialbook/internal/infrastructure/logging"
)

func TestNewMongoConfig_Defaults(t *testing.T) {
	cfg := NewMongoConfig(configs.MongoConfig{URI: "mongodb://mongo:27017"})

	if cfg.Database != DefaultDatabase {
		t.Errorf("expected default database, got %q", cfg.Database)
	}
	if cfg.ConnectionTimeout != DefaultConnectionTimeout {
		t.Errorf("expected default timeout, got %v", cfg.ConnectionTimeout)
	}

	cfg = NewMongoConfig(configs.MongoConfig{URI: "mongodb://mongo:27017", Database: "books", Timeout: 3 * time.Second})
	if cfg.Database != "books" || cfg.ConnectionTimeout != 3*time.Second {
		t.Errorf("expected explicit values to win, got %+v", cfg)
	}
}

func TestNewMongoClient_RejectsIncompleteConfig(t *testing.T) {
	cases := []*MongoConfig{
		nil,
		{Database: "socialbook", ConnectionTimeout: time.Second},
		{URI: "mongodb://mongo:27017", ConnectionTimeout: time.Second},
	}

	for _, cfg := range cases {
		if _, err := NewMongoClient(context.Background(), cfg, logging.NewNop()); err == nil {
			t.Errorf("expected error for config %+v", cfg)
		}
	}
}

func TestGetDatabase_Nil(t *testing.T) {
	if GetDatabase(nil, &MongoConfig{}) != nil {
		t.Error("expected nil database for nil client")
	}
	if err := DisconnectMongo(context.Background(), nil, logging.NewNop()); err != nil {
		t.Errorf("expected nil error for nil client, got %v", err)
	}
}
