package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/whatnewads/safeshift-sub018/internal/audit"
	"github.com/whatnewads/safeshift-sub018/internal/audit/export"
	"github.com/whatnewads/safeshift-sub018/internal/audit/integrity"
	auditmetrics "github.com/whatnewads/safeshift-sub018/internal/audit/metrics"
	"github.com/whatnewads/safeshift-sub018/internal/audit/query"
	auditpg "github.com/whatnewads/safeshift-sub018/internal/audit/store/postgres"
	"github.com/whatnewads/safeshift-sub018/internal/clinical/patient"
	patientpg "github.com/whatnewads/safeshift-sub018/internal/clinical/patient/store/postgres"
	"github.com/whatnewads/safeshift-sub018/internal/jwtauth"
	"github.com/whatnewads/safeshift-sub018/internal/platform/config"
	"github.com/whatnewads/safeshift-sub018/internal/platform/httpserver"
	"github.com/whatnewads/safeshift-sub018/internal/platform/logger"
	platformredis "github.com/whatnewads/safeshift-sub018/internal/platform/redis"
	httptransport "github.com/whatnewads/safeshift-sub018/internal/transport/http"
	"github.com/whatnewads/safeshift-sub018/pkg/platform/tx"
)

// main wires the audit engine and the review API. Business logic lives in
// the internal packages; this file only builds and connects them.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if cfg.AuditSecret == "" {
		log.Error("SAFESHIFT_AUDIT_SECRET is required")
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Error("database unreachable", "error", err)
		os.Exit(1)
	}

	signer, err := integrity.NewSigner([]byte(cfg.AuditSecret))
	if err != nil {
		log.Error("build integrity signer", "error", err)
		os.Exit(1)
	}

	m := auditmetrics.New()
	auditStore := auditpg.New(db, signer)
	recorder := audit.NewRecorder(auditStore, signer, log, audit.WithMetrics(m))

	queryOpts := []query.Option{query.WithMetrics(m), query.WithMaxPageSize(cfg.MaxPageSize)}
	cache, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("connect redis", "error", err)
		os.Exit(1)
	}
	if cache != nil {
		defer cache.Close()
		queryOpts = append(queryOpts, query.WithSummaryCache(cache.Client))
		log.Info("summary cache enabled")
	}
	querySvc := query.NewService(auditStore, signer, log, queryOpts...)

	runner := tx.NewRunner(db)
	patientStore := patientpg.New(db)
	patientSvc := patient.NewService(patientStore, recorder, runner, log)

	tokens := jwtauth.NewService(cfg.JWTSigningKey, "safeshift")
	handler := httptransport.NewHandler(querySvc, log)
	patientHandler := httptransport.NewPatientHandler(patientSvc, log)
	router := httptransport.NewRouter(handler, patientHandler, tokens, log)
	srv := httpserver.New(cfg.Addr, router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(cfg.Export.KafkaBrokers) > 0 {
		publisher, err := export.NewKafkaPublisher(cfg.Export.KafkaBrokers, cfg.Export.Topic)
		if err != nil {
			log.Error("connect kafka", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()

		forwarder := export.NewForwarder(auditStore, publisher, log,
			export.WithPollInterval(cfg.Export.PollInterval))
		go func() {
			if err := forwarder.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("forwarder stopped", "error", err)
			}
		}()
		log.Info("SIEM forwarder enabled", "topic", cfg.Export.Topic)
	}

	go func() {
		log.Info("starting safeshift audit service", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}
