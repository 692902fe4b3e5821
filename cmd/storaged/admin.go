// Copyright 2025 Keymesh Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/keymesh/storaged/internal/manager"
)

// newAdminServer serves the admin query surface: GET /status/<selector>
// returns the (key, value) pairs whose admin keys intersect the
// selector, as a JSON array.
func newAdminServer(addr string, mgr *manager.StorageManager) *http.Server {
	r := mux.NewRouter()
	r.HandleFunc("/status/{selector:.*}", func(w http.ResponseWriter, req *http.Request) {
		selector := mux.Vars(req)["selector"]
		if selector == "" {
			selector = "**"
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(mgr.Query(selector)); err != nil {
			logger.Warningf("writing admin response: %v", err)
		}
	}).Methods("GET")
	return &http.Server{Addr: addr, Handler: r}
}
