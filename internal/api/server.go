// Package api exposes the engine's collaborator surface over HTTP:
// deposits, withdrawals, order placement, book inspection, balances,
// asset registration and the test-token faucet, plus a websocket trade
// feed.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"skoll/internal/engine"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	addr    string
	origins []string
	engine  *engine.Engine
	router  *mux.Router
	hub     *Hub
}

func New(addr string, origins []string, eng *engine.Engine) *Server {
	s := &Server{
		addr:    addr,
		origins: origins,
		engine:  eng,
		router:  mux.NewRouter(),
		hub:     newHub(),
	}
	s.setupRoutes()
	return s
}

// Hub returns the trade feed, to be wired as the engine's reporter.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the fully wrapped HTTP handler. Exposed for tests.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

func (s *Server) setupRoutes() {
	v1 := s.router.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/assets", s.handleGetAssets).Methods(http.MethodGet)
	v1.HandleFunc("/assets", s.handleRegisterAsset).Methods(http.MethodPost)

	v1.HandleFunc("/deposit", s.handleDeposit).Methods(http.MethodPost)
	v1.HandleFunc("/withdraw", s.handleWithdraw).Methods(http.MethodPost)
	v1.HandleFunc("/faucet", s.handleFaucet).Methods(http.MethodPost)
	v1.HandleFunc("/balances/{trader}/{asset}", s.handleGetBalance).Methods(http.MethodGet)

	v1.HandleFunc("/orders", s.handlePlaceOrder).Methods(http.MethodPost)
	v1.HandleFunc("/books/{asset}/{side}", s.handleGetOrders).Methods(http.MethodGet)

	s.router.HandleFunc("/ws", s.hub.serveWS)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

// Run serves until ctx is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	t, ctx := tomb.WithContext(ctx)

	httpSrv := &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	t.Go(func() error {
		return s.hub.run(t)
	})

	t.Go(func() error {
		log.Info().Str("addr", s.addr).Msg("api server running")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	t.Go(func() error {
		<-t.Dying()
		log.Info().Msg("api server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return t.Wait()
}
