/*
battery-advisor - Derives battery trends and advice from battery samples
Copyright (C) 2025, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Websocket message types.
const (
	MessageAdvisory = "advisory"
	MessageSample   = "sample"
)

func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(s.requestLogger)

	r.Route("/api", func(r chi.Router) {
		r.Get("/advisory", s.handleGetAdvisory)
		r.Get("/rates", s.handleGetRates)
		r.Get("/samples", s.handleGetSamples)
		r.Post("/samples", s.handlePostSample)
		r.Get("/advisories", s.handleListAdvisories)
	})
	r.Get("/ws", s.handleWebSocket)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debugf("%s %s %d %s", r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}
