// Package mongodb persists the audit trail and pipeline status events.
package mongodb

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"sync"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/miracaEU/EnergyModelling/internal/pkg/msg"
	"github.com/miracaEU/EnergyModelling/internal/pkg/resolve"
)

// Handler subscribes to the pipeline's audit and status topics and upserts
// the records into MongoDB.
type Handler struct {
	mux    *sync.Mutex
	inbox  <-chan msg.Msg
	pid    uuid.UUID
	config config
	stop   chan bool
}

type config struct {
	URI      string `json:"URI"`
	Database string `json:"Database"`
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

// Process consumes the inbox and writes records until stopped.
func (h Handler) Process() {
	ctx := context.TODO()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(h.config.URI))
	if err != nil {
		log.Println("[Mongo]", err)
		return
	}
	defer client.Disconnect(ctx)

	audit := client.Database(h.config.Database).Collection("auditTrail")
	status := client.Database(h.config.Database).Collection("pipelineStatus")

loop:
	for {
		select {
		case m := <-h.inbox:
			switch m.Topic() {
			case msg.Audit:
				rec, ok := m.Payload().(resolve.Resolution)
				if !ok {
					continue
				}
				opts := options.Update().SetUpsert(true)
				_, err = audit.UpdateOne(
					ctx,
					bson.M{"entityId": rec.EntityID},
					bson.D{{Key: "$set", Value: rec}},
					opts,
				)
				if err != nil {
					log.Println("[Mongo] audit:", err)
				}
			case msg.Status:
				_, err = status.InsertOne(ctx, bson.M{
					"pid":    m.PID().String(),
					"status": m.Payload(),
				})
				if err != nil {
					log.Println("[Mongo] status:", err)
				}
			}
		case <-h.stop:
			break loop
		}
	}
	log.Println("[Mongo] Process Shutdown")
}
