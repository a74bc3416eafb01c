// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package postgres_test contains tests for PostgreSQL repository
// implementations.
package postgres_test

import (
	"fmt"
	"log"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib" // required for SQL access
	"github.com/jmoiron/sqlx"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	migrate "github.com/rubenv/sql-migrate"
	"go.opentelemetry.io/otel"

	accesspg "github.com/acsio/acs/access/postgres"
	auditpg "github.com/acsio/acs/audit/postgres"
	pgclient "github.com/acsio/acs/pkg/postgres"
)

var (
	db       *sqlx.DB
	database pgclient.Database
	tracer   = otel.Tracer("access_postgres_test")
)

func TestMain(m *testing.M) {
	pool, err := dockertest.NewPool("")
	if err != nil {
		log.Fatalf("Could not connect to docker: %s", err)
	}

	container, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "16.2-alpine",
		Env: []string{
			"POSTGRES_USER=test",
			"POSTGRES_PASSWORD=test",
			"POSTGRES_DB=test",
			"listen_addresses = '*'",
		},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		log.Fatalf("Could not start container: %s", err)
	}

	port := container.GetPort("5432/tcp")

	url := fmt.Sprintf("host=localhost port=%s user=test dbname=test password=test sslmode=disable", port)
	if err := pool.Retry(func() error {
		db, err = sqlx.Open("pgx", url)
		if err != nil {
			return err
		}
		return db.Ping()
	}); err != nil {
		log.Fatalf("Could not connect to docker: %s", err)
	}

	dbConfig := pgclient.Config{
		Host:    "localhost",
		Port:    port,
		User:    "test",
		Pass:    "test",
		Name:    "test",
		SSLMode: "disable",
	}

	migrations := migrate.MemoryMigrationSource{
		Migrations: append(accesspg.Migration().Migrations, auditpg.Migration().Migrations...),
	}
	if db, err = pgclient.Setup(dbConfig, migrations); err != nil {
		log.Fatalf("Could not setup test DB connection: %s", err)
	}
	database = pgclient.NewDatabase(db, dbConfig, tracer, nil)

	code := m.Run()

	// Defers will not be run when using os.Exit
	db.Close()
	if err := pool.Purge(container); err != nil {
		log.Fatalf("Could not purge container: %s", err)
	}

	os.Exit(code)
}
