// Package natshandler streams audit and status events to NATS subjects so
// external consumers can follow a run without polling.
package natshandler

import (
	"encoding/json"
	"log"
	"os"
	"sync"

	"github.com/google/uuid"
	nats "github.com/nats-io/nats.go"

	"github.com/miracaEU/EnergyModelling/internal/pkg/msg"
)

const (
	auditSubject  = "energymodel.audit"
	statusSubject = "energymodel.status"
)

// Handler forwards pipeline messages onto a NATS connection.
type Handler struct {
	mux    *sync.Mutex
	inbox  <-chan msg.Msg
	pid    uuid.UUID
	config config
	stop   chan bool
}

type config struct {
	Server string `json:"Server"`
}

func redirectMsg(chIn <-chan msg.Msg, chOut chan<- msg.Msg) {
	for m := range chIn {
		chOut <- m
	}
}

// New reads the handler configuration and subscribes to the system's audit
// and status streams.
func New(configPath string, system msg.Publisher) (Handler, error) {
	jsonConfig, err := os.ReadFile(configPath)
	if err != nil {
		return Handler{}, err
	}
	cfg := config{}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return Handler{}, err
	}

	pid, _ := uuid.NewUUID()
	inbox := make(chan msg.Msg, 50)

	chAudit, err := system.Subscribe(pid, msg.Audit)
	if err != nil {
		return Handler{}, err
	}
	go redirectMsg(chAudit, inbox)

	chStatus, err := system.Subscribe(pid, msg.Status)
	if err != nil {
		return Handler{}, err
	}
	go redirectMsg(chStatus, inbox)

	return Handler{
		mux:    &sync.Mutex{},
		inbox:  inbox,
		pid:    pid,
		config: cfg,
		// Buffered so StopProcess never blocks when Process already
		// returned on a failed connect.
		stop: make(chan bool, 1),
	}, nil
}

// PID is a getter for the handler PID
func (h Handler) PID() uuid.UUID {
	return h.pid
}

// StopProcess terminates the Process loop.
func (h *Handler) StopProcess() {
	h.stop <- true
}

// Process forwards inbox messages until stopped.
func (h Handler) Process() {
	nc, err := nats.Connect(h.config.Server)
	if err != nil {
		log.Println("[NATS]", err)
		return
	}
	defer nc.Close()

loop:
	for {
		select {
		case m := <-h.inbox:
			subject := statusSubject
			if m.Topic() == msg.Audit {
				subject = auditSubject
			}
			payload, err := json.Marshal(m.Payload())
			if err != nil {
				log.Println("[NATS] marshal:", err)
				continue
			}
			if err := nc.Publish(subject, payload); err != nil {
				log.Println("[NATS] publish:", err)
			}
		case <-h.stop:
			break loop
		}
	}
	log.Println("[NATS] Process Shutdown")
}
