package main

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gookit/goutil/dump"
	"github.com/gorilla/mux"

	"github.com/nsbackend/dyndb-ldap/ldapsync"
)

// StatusResponse is the operator-visibility surface from SPEC_FULL.md's
// DOMAIN STACK table: a read-only window onto the sync engine's state,
// mirroring tdnsd/apihandler.go's /ping-style status endpoints.
type StatusResponse struct {
	Instance  string `json:"instance"`
	SyncState string `json:"sync_state"`
	Zones     int    `json:"zones"`
	Forwards  int    `json:"forwards"`
	Tainted   bool   `json:"tainted"`
	TaintNote string `json:"taint_reason,omitempty"`
}

func APIstatus(inst *ldapsync.Instance) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		tainted, reason := inst.TaintStatus()
		resp := StatusResponse{
			Instance:  inst.Name,
			SyncState: inst.Barrier.State().String(),
			Zones:     inst.Register.Len(),
			Forwards:  inst.Forward.Len(),
			Tainted:   tainted,
			TaintNote: reason,
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

// APIreload makes the connection pool retry every connection that is not
// Bound immediately and clears the instance's taint flag, the operator-facing
// counterpart of the "run a reload" log hint from section 7.
func APIreload(d *Daemon) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := d.Pool.Reload(); err != nil {
			log.Printf("ldapsyncd: API reload: %v", err)
			w.WriteHeader(http.StatusBadGateway)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		d.Inst.ClearTaint()
		dump.P(d.Inst.Name, "reload complete")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

// SetupRouter installs the status endpoints, matching tdnsd/apihandler.go's
// SetupRouter/walkRoutes shape.
func SetupRouter(conf *Config, d *Daemon) *mux.Router {
	r := mux.NewRouter().StrictSlash(true)
	sr := r.PathPrefix("/api/v1").Headers("X-API-Key", conf.Apiserver.Key).Subrouter()
	sr.HandleFunc("/status", APIstatus(d.Inst)).Methods("GET")
	sr.HandleFunc("/reload", APIreload(d)).Methods("POST")
	return r
}

// APIdispatcher starts the status HTTP server in its own goroutine.
func APIdispatcher(conf *Config, d *Daemon) {
	router := SetupRouter(conf, d)
	address := conf.Apiserver.Address
	go func() {
		log.Println("ldapsyncd: API dispatcher listening on", address)
		log.Fatal(http.ListenAndServe(address, router))
	}()
}
