package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"dedup-go/internal/dedup"
	"dedup-go/internal/protocol"
)

const (
	dialTimeout      = 10 * time.Second
	reconnectBackoff = 5 * time.Second
)

// Runner maintains the persistent connection to the coordinator and
// dispatches its commands. Capabilities with a nil executor are not
// announced.
type Runner struct {
	coordinatorAddr string
	workerID        string
	deleter         *Deleter
	indexer         *Indexer
	logger          dedup.Logger
}

// NewRunner creates a Runner. deleter and indexer may each be nil; at
// least one must be set.
func NewRunner(coordinatorAddr, workerID string, deleter *Deleter, indexer *Indexer, logger dedup.Logger) (*Runner, error) {
	if deleter == nil && indexer == nil {
		return nil, fmt.Errorf("worker has no capabilities")
	}
	return &Runner{
		coordinatorAddr: coordinatorAddr,
		workerID:        workerID,
		deleter:         deleter,
		indexer:         indexer,
		logger:          logger,
	}, nil
}

func (r *Runner) capabilities() []string {
	var caps []string
	if r.deleter != nil {
		caps = append(caps, dedup.CapabilityCleanup)
	}
	if r.indexer != nil {
		caps = append(caps, dedup.CapabilityIndexing)
	}
	return caps
}

// Run connects to the coordinator and serves commands until ctx is
// cancelled, reconnecting with a fixed backoff on connection loss.
func (r *Runner) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.serveOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Warn("connection lost, reconnecting", "coordinator", r.coordinatorAddr, "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectBackoff):
		}
	}
}

func (r *Runner) serveOnce(ctx context.Context) error {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", r.coordinatorAddr)
	if err != nil {
		return fmt.Errorf("dialing coordinator: %w", err)
	}
	defer conn.Close()

	// Close the connection when ctx dies so the decoder unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	enc := json.NewEncoder(conn)
	dec := json.NewDecoder(conn)
	var sendMu sync.Mutex
	send := func(env protocol.Envelope) error {
		sendMu.Lock()
		defer sendMu.Unlock()
		return enc.Encode(env)
	}

	hostname, _ := os.Hostname()
	reg, err := protocol.NewEnvelope(protocol.MessageRegisterWorker, "", protocol.RegisterWorker{
		WorkerID:     r.workerID,
		Hostname:     hostname,
		Capabilities: r.capabilities(),
	})
	if err != nil {
		return err
	}
	if err := send(reg); err != nil {
		return fmt.Errorf("registering: %w", err)
	}

	var ackEnv protocol.Envelope
	if err := dec.Decode(&ackEnv); err != nil {
		return fmt.Errorf("reading registration ack: %w", err)
	}
	if ackEnv.Type != protocol.MessageAck {
		return fmt.Errorf("unexpected %s instead of registration ack", ackEnv.Type)
	}
	r.logger.Info("registered with coordinator", "coordinator", r.coordinatorAddr, "capabilities", fmt.Sprint(r.capabilities()))

	for {
		var env protocol.Envelope
		if err := dec.Decode(&env); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("coordinator closed connection")
			}
			return fmt.Errorf("reading command: %w", err)
		}
		if err := r.handle(ctx, env, send); err != nil {
			r.logger.Error("command handling failed", "type", string(env.Type), "error", err)
		}
	}
}

func (r *Runner) handle(ctx context.Context, env protocol.Envelope, send func(protocol.Envelope) error) error {
	switch env.Type {
	case protocol.MessageDeleteFile:
		if r.deleter == nil {
			return r.refuse(env, "cleanup capability not enabled", send)
		}
		var cmd protocol.DeleteFile
		if err := env.Decode(&cmd); err != nil {
			return err
		}
		report := r.deleter.Execute(ctx, cmd)
		resp, err := protocol.NewEnvelope(protocol.MessageFileReport, env.CorrelationID, report)
		if err != nil {
			return err
		}
		return send(resp)

	case protocol.MessageFileDiscovered:
		if r.indexer == nil {
			return r.refuse(env, "indexing capability not enabled", send)
		}
		var fd protocol.FileDiscovered
		if err := env.Decode(&fd); err != nil {
			return err
		}
		report := r.indexer.IndexDiscovered(ctx, fd)
		resp, err := protocol.NewEnvelope(protocol.MessageFileReport, env.CorrelationID, report)
		if err != nil {
			return err
		}
		return send(resp)

	case protocol.MessageReprocessFiles:
		if r.indexer == nil {
			return r.refuse(env, "indexing capability not enabled", send)
		}
		var rp protocol.ReprocessFiles
		if err := env.Decode(&rp); err != nil {
			return err
		}
		ack, err := protocol.NewEnvelope(protocol.MessageAck, env.CorrelationID, protocol.Ack{OK: true})
		if err != nil {
			return err
		}
		if err := send(ack); err != nil {
			return err
		}
		// Reports stream back asynchronously, one per file.
		go r.indexer.Reprocess(ctx, rp, send)
		return nil

	default:
		r.logger.Warn("unexpected message from coordinator", "type", string(env.Type))
		return nil
	}
}

func (r *Runner) refuse(env protocol.Envelope, reason string, send func(protocol.Envelope) error) error {
	resp, err := protocol.NewEnvelope(protocol.MessageAck, env.CorrelationID, protocol.Ack{OK: false, Error: reason})
	if err != nil {
		return err
	}
	return send(resp)
}
