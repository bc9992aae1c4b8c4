// Copyright 2018 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package kamon

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/cors"
)

// ServerConfig configures the HTTP front of the JSON-RPC API.
type ServerConfig struct {
	// CORSOrigins lists allowed browser origins for HTTP and websocket calls.
	// When empty, requests carrying an Origin header are refused.
	CORSOrigins []string

	// JWTSecret enables HS256 bearer authentication when non-empty. Tokens
	// must carry an exp claim.
	JWTSecret string
}

// NewHandler mounts api on an HTTP handler: JSON-RPC over HTTP at "/",
// JSON-RPC over websocket (with subscriptions) at "/ws", and "/health".
// The returned rpc.Server must be stopped by the caller.
func NewHandler(api *API, cfg ServerConfig) (http.Handler, *rpc.Server, error) {
	srv := rpc.NewServer()
	if err := srv.RegisterName("kamon", api); err != nil {
		return nil, nil, err
	}

	router := chi.NewRouter()
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	router.Group(func(r chi.Router) {
		if cfg.JWTSecret != "" {
			r.Use(newAuthMiddleware(cfg.JWTSecret))
		}
		r.Handle("/ws", srv.WebsocketHandler(cfg.CORSOrigins))
		r.Handle("/", srv)
	})

	// rs/cors allows every origin for an empty list, so browsers are only
	// admitted when origins are configured explicitly.
	if len(cfg.CORSOrigins) == 0 {
		return denyCrossOrigin(router), srv, nil
	}
	handler := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(router)

	return handler, srv, nil
}

// denyCrossOrigin rejects browser requests, which always carry an Origin
// header. Non-browser clients are unaffected.
func denyCrossOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if origin := req.Header.Get("Origin"); origin != "" {
			log.Debug("Rejected cross-origin API request", "origin", origin, "remote", req.RemoteAddr)
			http.Error(w, "cross-origin requests not allowed", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func newAuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			token, ok := bearerToken(req.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			if err := authenticateJWT(token, secret); err != nil {
				log.Debug("Rejected API request", "remote", req.RemoteAddr, "err", err)
				http.Error(w, "invalid bearer token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func authenticateJWT(token, secret string) error {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	parsed, err := parser.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return err
	}
	if !parsed.Valid {
		return errors.New("invalid token")
	}
	return nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}
