package main

import (
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/paylinka/linkledger/internal/api"
	"github.com/paylinka/linkledger/internal/config"
	"github.com/paylinka/linkledger/internal/service"
	"github.com/paylinka/linkledger/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	var handler *api.Handler
	if cfg.DBSource != "" {
		st, err := store.NewStore(cfg.DBSource)
		if err != nil {
			log.Fatalf("Unable to connect to database: %v", err)
		}
		defer st.Close()
		handler = api.NewHandler(st, service.NewSettlementService(st.Db))
	} else {
		log.Println("DB_SOURCE not set, running on the in-memory ledger")
		mem := store.NewMemStore()
		handler = api.NewHandler(mem, mem)
	}

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", handler.HealthCheckHandler)

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	handler.Routes(apiV1)

	log.Printf("Server starting on :%s (%s)", cfg.Port, cfg.Env)
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatal(err)
	}
}
