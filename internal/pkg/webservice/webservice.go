// Package webservice exposes the consumer surface over HTTP: the augmented
// network and the audit trail of every entity resolution.
package webservice

import (
	"encoding/json"
	"log"
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"github.com/miracaEU/EnergyModelling/internal/pkg/runner"
)

// Config holds the listen address.
type Config struct {
	Addr string `json:"Addr"`
}

// App serves the assembled run results.
type App struct {
	Runner *runner.Runner
	Config Config
}

// New reads the webservice configuration from a JSON file.
func New(configPath string, r *runner.Runner) (*App, error) {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	cfg := Config{}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &App{Runner: r, Config: cfg}, nil
}

// Router builds the HTTP routes.
func (app *App) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/network", app.NetworkHandler).Methods("GET")
	r.HandleFunc("/audit", app.AuditHandler).Methods("GET")
	r.HandleFunc("/audit/{entity}", app.AuditEntityHandler).Methods("GET")
	return r
}

// ListenAndServe blocks serving the configured address.
func (app *App) ListenAndServe() error {
	log.Println("[Webservice] listening on", app.Config.Addr)
	return http.ListenAndServe(app.Config.Addr, app.Router())
}

type busSummary struct {
	BusID        string    `json:"BusID"`
	InjectionMW  float64   `json:"InjectionMW"`
	WithdrawalMW []float64 `json:"WithdrawalMW"`
}

type networkSummary struct {
	State      string       `json:"State"`
	Steps      int          `json:"Steps"`
	Violations int          `json:"Violations"`
	Buses      []busSummary `json:"Buses"`
}

// NetworkHandler returns the augmented network per bus.
func (app *App) NetworkHandler(w http.ResponseWriter, r *http.Request) {
	an := app.Runner.AugmentedNetwork()
	summary := networkSummary{
		State:      string(an.State),
		Steps:      an.Steps,
		Violations: len(an.Violations),
	}
	for _, b := range an.Network.Buses() {
		summary.Buses = append(summary.Buses, busSummary{
			BusID:        b.ID,
			InjectionMW:  an.InjectionAt(b.ID),
			WithdrawalMW: an.Withdrawal[b.ID],
		})
	}
	writeJSON(w, summary)
}

// AuditHandler returns the full resolution audit trail.
func (app *App) AuditHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, app.Runner.AuditTrail())
}

// AuditEntityHandler returns the resolution record of one entity.
func (app *App) AuditEntityHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	for _, rec := range app.Runner.AuditTrail() {
		if rec.EntityID == vars["entity"] {
			writeJSON(w, rec)
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
	writeJSON(w, map[string]string{"error": "unknown entity"})
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	body, err := json.Marshal(payload)
	if err != nil {
		log.Println("[Webservice] malformed JSON:", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if _, err := w.Write(body); err != nil {
		log.Println("[Webservice]", err)
	}
}
