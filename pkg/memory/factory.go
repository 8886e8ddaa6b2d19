package memory

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/barekit/docinsights/pkg/memory/consts"
	"github.com/barekit/docinsights/pkg/memory/gormstore"
	"github.com/barekit/docinsights/pkg/memory/inmemory"
	mongomem "github.com/barekit/docinsights/pkg/memory/mongo"
	"github.com/barekit/docinsights/pkg/memory/neo4j"
	"github.com/barekit/docinsights/pkg/memory/redis"
	goredis "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Type string

const (
	TypeSQLite   Type = "sqlite"
	TypePostgres Type = "postgres"
	TypeMySQL    Type = "mysql"
	TypeMSSQL    Type = "mssql"
	TypeRedis    Type = "redis"
	TypeNeo4j    Type = "neo4j"
	TypeMongo    Type = "mongo"
	TypeInMemory Type = "inmemory"
)

// Config holds configuration for memory adapters.
type Config struct {
	Type             Type
	ConnectionString string
	Username         string
	Password         string
	DBName           string
	// TTL expires idle transcripts where the backend supports it (redis).
	TTL time.Duration
}

// NewFactory creates a new memory adapter based on the configuration.
func NewFactory(ctx context.Context, cfg Config) (Memory, error) {
	switch cfg.Type {
	case TypeSQLite, TypePostgres, TypeMySQL, TypeMSSQL:
		return gormstore.Open(string(cfg.Type), cfg.ConnectionString)

	case TypeRedis:
		opts, err := goredis.ParseURL(cfg.ConnectionString)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		client := goredis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		return redis.New(client, cfg.TTL), nil

	case TypeNeo4j:
		dbName := "neo4j"
		if cfg.DBName != "" {
			dbName = cfg.DBName
		}
		return neo4j.New(ctx, cfg.ConnectionString, cfg.Username, cfg.Password, dbName)

	case TypeMongo:
		opts := options.Client().ApplyURI(cfg.ConnectionString)
		client, err := mongo.Connect(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to mongo: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			return nil, fmt.Errorf("failed to ping mongo: %w", err)
		}
		dbName := consts.DefaultDBName
		if cfg.DBName != "" {
			dbName = cfg.DBName
		}
		return mongomem.New(client, dbName, consts.TableNameMessages), nil

	case TypeInMemory, "":
		return inmemory.New(), nil

	default:
		return nil, fmt.Errorf("unsupported memory type: %s", cfg.Type)
	}
}

// Close releases the adapter's connection if it holds one.
func Close(ctx context.Context, m Memory) error {
	switch c := m.(type) {
	case io.Closer:
		return c.Close()
	case interface{ Close(context.Context) error }:
		return c.Close(ctx)
	}
	return nil
}
