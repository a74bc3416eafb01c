// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package main contains acs main function to start the access control service.
package main

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"

	"github.com/caarlos0/env/v11"
	"golang.org/x/sync/errgroup"

	"github.com/acsio/acs/access"
	"github.com/acsio/acs/internal/server"
	httpserver "github.com/acsio/acs/internal/server/http"
	acslog "github.com/acsio/acs/logger"
	jaegerclient "github.com/acsio/acs/pkg/jaeger"
	pgclient "github.com/acsio/acs/pkg/postgres"
	"github.com/acsio/acs/pkg/uuid"
	"github.com/acsio/acs/supervisor"
	supervisorapi "github.com/acsio/acs/supervisor/api"
)

const (
	svcName         = "access-control"
	envPrefix       = "ACS_"
	envPrefixDB     = "ACS_DB_"
	envPrefixHTTP   = "ACS_HTTP_"
	envPrefixBuffer = "ACS_"
	defDB           = "acs"
	defSvcHTTPPort  = "9099"
)

type config struct {
	LogLevel   string  `env:"ACS_LOG_LEVEL"          envDefault:"info"`
	JaegerURL  url.URL `env:"ACS_JAEGER_URL"         envDefault:"http://localhost:4318/v1/traces"`
	InstanceID string  `env:"ACS_INSTANCE_ID"        envDefault:""`
	TraceRatio float64 `env:"ACS_JAEGER_TRACE_RATIO" envDefault:"1.0"`
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	cfg := config{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to load %s configuration : %s", svcName, err)
	}

	logger, err := acslog.New(os.Stdout, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to init logger: %s", err)
	}

	var exitCode int
	defer acslog.ExitWithError(&exitCode)

	if cfg.InstanceID == "" {
		if cfg.InstanceID, err = uuid.New().ID(); err != nil {
			logger.Error(fmt.Sprintf("failed to generate instanceID: %s", err))
			exitCode = 1
			return
		}
	}

	dbConfig := pgclient.Config{Name: defDB}
	if err := env.ParseWithOptions(&dbConfig, env.Options{Prefix: envPrefixDB}); err != nil {
		logger.Error(err.Error())
		exitCode = 1
		return
	}

	bufferConfig := access.BufferConfig{}
	if err := env.ParseWithOptions(&bufferConfig, env.Options{Prefix: envPrefixBuffer}); err != nil {
		logger.Error(err.Error())
		exitCode = 1
		return
	}

	supConfig := supervisor.Config{}
	if err := env.ParseWithOptions(&supConfig, env.Options{Prefix: envPrefix}); err != nil {
		logger.Error(err.Error())
		exitCode = 1
		return
	}

	tp, err := jaegerclient.NewProvider(ctx, svcName, cfg.JaegerURL, cfg.InstanceID, cfg.TraceRatio)
	if err != nil {
		logger.Error(fmt.Sprintf("failed to init Jaeger: %s", err))
		exitCode = 1
		return
	}
	defer func() {
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("error shutting down tracer provider: %v", err))
		}
	}()
	tracer := tp.Tracer(svcName)

	sup := supervisor.New(supConfig, dbConfig, bufferConfig, logger, tracer)
	defer func() {
		if err := sup.Stop(); err != nil {
			logger.Error(fmt.Sprintf("error stopping tenant workers: %s", err))
		}
	}()

	for _, tenantID := range supConfig.Tenants {
		if err := sup.StartTenant(ctx, tenantID); err != nil {
			logger.Error(fmt.Sprintf("failed to start tenant %s: %s", tenantID, err))
			exitCode = 1
			return
		}
	}

	httpServerConfig := server.Config{Port: defSvcHTTPPort}
	if err := env.ParseWithOptions(&httpServerConfig, env.Options{Prefix: envPrefixHTTP}); err != nil {
		logger.Error(fmt.Sprintf("failed to load %s HTTP server configuration : %s", svcName, err))
		exitCode = 1
		return
	}
	hs := httpserver.New(ctx, cancel, svcName, httpServerConfig, supervisorapi.MakeHandler(sup, logger, cfg.InstanceID), logger)

	g.Go(func() error {
		return hs.Start()
	})
	g.Go(func() error {
		return server.StopSignalHandler(ctx, cancel, logger, svcName, hs)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("%s service terminated: %s", svcName, err))
		exitCode = 1
	}
}
