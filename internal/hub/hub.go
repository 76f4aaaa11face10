// Package hub is the coordinator side of the worker channel: a TCP
// listener that accepts worker connections, tracks their capabilities,
// and correlates command/report pairs over the persistent stream.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"dedup-go/internal/dedup"
	"dedup-go/internal/protocol"
)

// defaultRequestTimeout bounds how long a single command waits for its
// report when the caller's context has no deadline of its own.
const defaultRequestTimeout = 5 * time.Minute

// workerConn is one registered worker connection. Writes are serialized
// through sendMu; reads happen only on the connection's own goroutine.
type workerConn struct {
	id           string
	hostname     string
	capabilities map[string]bool
	conn         net.Conn

	sendMu sync.Mutex
	enc    *json.Encoder
}

func (w *workerConn) send(env protocol.Envelope) error {
	w.sendMu.Lock()
	defer w.sendMu.Unlock()
	return w.enc.Encode(env)
}

// Hub listens for worker connections and implements the coordinator's
// view of the channel. At most one report is outstanding per
// correlation ID.
type Hub struct {
	addr   string
	idgen  dedup.IDGenerator
	logger dedup.Logger

	mu      sync.RWMutex
	workers map[string]*workerConn

	pendingMu sync.Mutex
	pending   map[string]chan protocol.Envelope

	// reportHandler receives file reports nobody is waiting on, such
	// as streamed reprocess results.
	reportHandler func(protocol.FileReport)

	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	once     sync.Once
}

var _ dedup.WorkerChannel = (*Hub)(nil)

// NewHub creates a hub that will listen on addr once started.
func NewHub(addr string, idgen dedup.IDGenerator, logger dedup.Logger) *Hub {
	return &Hub{
		addr:    addr,
		idgen:   idgen,
		logger:  logger,
		workers: make(map[string]*workerConn),
		pending: make(map[string]chan protocol.Envelope),
	}
}

// Start binds the listener and launches the accept loop.
func (h *Hub) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.addr, err)
	}
	h.listener = ln
	h.logger.Info("hub listening", "addr", ln.Addr().String())

	ctx, h.cancel = context.WithCancel(ctx)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.acceptLoop(ctx)
	}()
	return nil
}

// Addr returns the bound listen address. Valid only after Start.
func (h *Hub) Addr() net.Addr {
	return h.listener.Addr()
}

// Stop closes the listener and all worker connections.
func (h *Hub) Stop() {
	h.once.Do(func() {
		if h.cancel != nil {
			h.cancel()
		}
		if h.listener != nil {
			h.listener.Close()
		}
		h.mu.Lock()
		for _, w := range h.workers {
			w.conn.Close()
		}
		h.mu.Unlock()
		h.wg.Wait()
	})
}

func (h *Hub) acceptLoop(ctx context.Context) {
	for {
		conn, err := h.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			h.logger.Warn("accept failed", "error", err)
			continue
		}
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.handleConn(ctx, conn)
		}()
	}
}

// handleConn runs the read loop for one connection. The first message
// must be register_worker; anything else drops the connection.
func (h *Hub) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	dec := json.NewDecoder(conn)

	var env protocol.Envelope
	if err := dec.Decode(&env); err != nil {
		h.logger.Warn("dropping connection before registration", "remote", conn.RemoteAddr().String(), "error", err)
		return
	}
	if env.Type != protocol.MessageRegisterWorker {
		h.logger.Warn("first message was not register_worker", "remote", conn.RemoteAddr().String(), "type", string(env.Type))
		return
	}

	var reg protocol.RegisterWorker
	if err := env.Decode(&reg); err != nil {
		h.logger.Warn("invalid registration", "remote", conn.RemoteAddr().String(), "error", err)
		return
	}
	if reg.WorkerID == "" {
		reg.WorkerID = h.idgen.New()
	}

	w := &workerConn{
		id:           reg.WorkerID,
		hostname:     reg.Hostname,
		capabilities: make(map[string]bool, len(reg.Capabilities)),
		conn:         conn,
		enc:          json.NewEncoder(conn),
	}
	for _, c := range reg.Capabilities {
		w.capabilities[c] = true
	}

	ack, err := protocol.NewEnvelope(protocol.MessageAck, env.CorrelationID, protocol.Ack{OK: true})
	if err == nil {
		err = w.send(ack)
	}
	if err != nil {
		h.logger.Warn("registration ack failed", "worker", w.id, "error", err)
		return
	}

	h.mu.Lock()
	h.workers[w.id] = w
	h.mu.Unlock()
	h.logger.Info("worker registered", "worker", w.id, "capabilities", fmt.Sprint(reg.Capabilities))

	defer func() {
		h.mu.Lock()
		delete(h.workers, w.id)
		h.mu.Unlock()
		h.logger.Info("worker disconnected", "worker", w.id)
	}()

	for {
		var msg protocol.Envelope
		if err := dec.Decode(&msg); err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				h.logger.Warn("worker read failed", "worker", w.id, "error", err)
			}
			return
		}
		switch msg.Type {
		case protocol.MessageFileReport, protocol.MessageAck:
			h.deliver(msg)
		default:
			h.logger.Warn("unexpected message from worker", "worker", w.id, "type", string(msg.Type))
		}
	}
}

// SetReportHandler installs a handler for file reports that arrive
// without a waiting request. Must be called before Start.
func (h *Hub) SetReportHandler(fn func(protocol.FileReport)) {
	h.reportHandler = fn
}

// deliver routes a response to the request waiting on its correlation
// ID. Unsolicited file reports go to the report handler; anything else
// uncorrelated is dropped.
func (h *Hub) deliver(env protocol.Envelope) {
	h.pendingMu.Lock()
	ch, ok := h.pending[env.CorrelationID]
	h.pendingMu.Unlock()
	if ok {
		select {
		case ch <- env:
		default:
		}
		return
	}

	if env.Type == protocol.MessageFileReport && h.reportHandler != nil {
		var report protocol.FileReport
		if err := env.Decode(&report); err != nil {
			h.logger.Warn("invalid unsolicited report", "error", err)
			return
		}
		h.reportHandler(report)
		return
	}
	h.logger.Debug("uncorrelated response dropped", "type", string(env.Type), "correlation", env.CorrelationID)
}

// HasWorker reports whether a worker with the capability is connected.
func (h *Hub) HasWorker(capability string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, w := range h.workers {
		if w.capabilities[capability] {
			return true
		}
	}
	return false
}

// pickWorker returns a connected worker with the capability.
func (h *Hub) pickWorker(capability string) (*workerConn, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, w := range h.workers {
		if w.capabilities[capability] {
			return w, nil
		}
	}
	return nil, dedup.ErrNoWorkerConnected
}

// request sends env to w and waits for the correlated response.
func (h *Hub) request(ctx context.Context, w *workerConn, env protocol.Envelope) (protocol.Envelope, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultRequestTimeout)
		defer cancel()
	}

	ch := make(chan protocol.Envelope, 1)
	h.pendingMu.Lock()
	h.pending[env.CorrelationID] = ch
	h.pendingMu.Unlock()
	defer func() {
		h.pendingMu.Lock()
		delete(h.pending, env.CorrelationID)
		h.pendingMu.Unlock()
	}()

	if err := w.send(env); err != nil {
		return protocol.Envelope{}, fmt.Errorf("sending %s to worker %s: %w", env.Type, w.id, err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return protocol.Envelope{}, fmt.Errorf("waiting for %s response from worker %s: %w", env.Type, w.id, ctx.Err())
	}
}

// ExecuteDelete pushes one delete command to a connected cleanup worker
// and waits for its per-file report.
func (h *Hub) ExecuteDelete(ctx context.Context, cmd dedup.DeleteCommand) (*dedup.DeleteReport, error) {
	w, err := h.pickWorker(dedup.CapabilityCleanup)
	if err != nil {
		return nil, err
	}

	env, err := protocol.NewEnvelope(protocol.MessageDeleteFile, h.idgen.New(), protocol.DeleteFile{
		JobID:       cmd.JobID,
		FileID:      cmd.FileID,
		FilePath:    cmd.FilePath,
		ContentHash: cmd.ContentHash,
		SizeBytes:   cmd.SizeBytes,
		Category:    string(cmd.Category),
	})
	if err != nil {
		return nil, err
	}

	resp, err := h.request(ctx, w, env)
	if err != nil {
		return nil, err
	}
	if resp.Type != protocol.MessageFileReport {
		return nil, fmt.Errorf("unexpected %s response to delete_file", resp.Type)
	}

	var report protocol.FileReport
	if err := resp.Decode(&report); err != nil {
		return nil, err
	}

	status := dedup.JobFileFailed
	if report.Status == string(dedup.JobFileDeleted) {
		status = dedup.JobFileDeleted
	}
	return &dedup.DeleteReport{
		JobID:      report.JobID,
		FileID:     report.FileID,
		Status:     status,
		ArchiveKey: report.ArchiveKey,
		ErrorKind:  report.ErrorKind,
		Error:      report.Error,
	}, nil
}

// SendFileDiscovered streams one hashed file notice to an indexing
// worker and waits for its indexed report.
func (h *Hub) SendFileDiscovered(ctx context.Context, fd protocol.FileDiscovered) (*protocol.FileReport, error) {
	w, err := h.pickWorker(dedup.CapabilityIndexing)
	if err != nil {
		return nil, err
	}

	env, err := protocol.NewEnvelope(protocol.MessageFileDiscovered, h.idgen.New(), fd)
	if err != nil {
		return nil, err
	}

	resp, err := h.request(ctx, w, env)
	if err != nil {
		return nil, err
	}
	if resp.Type != protocol.MessageFileReport {
		return nil, fmt.Errorf("unexpected %s response to file_discovered", resp.Type)
	}

	var report protocol.FileReport
	if err := resp.Decode(&report); err != nil {
		return nil, err
	}
	return &report, nil
}

// SendReprocess asks an indexing worker to re-extract metadata for
// already-indexed files. The worker acknowledges receipt; reports
// arrive per file later.
func (h *Hub) SendReprocess(ctx context.Context, rp protocol.ReprocessFiles) error {
	w, err := h.pickWorker(dedup.CapabilityIndexing)
	if err != nil {
		return err
	}

	env, err := protocol.NewEnvelope(protocol.MessageReprocessFiles, h.idgen.New(), rp)
	if err != nil {
		return err
	}

	resp, err := h.request(ctx, w, env)
	if err != nil {
		return err
	}
	if resp.Type != protocol.MessageAck {
		return fmt.Errorf("unexpected %s response to reprocess_files", resp.Type)
	}
	var ack protocol.Ack
	if err := resp.Decode(&ack); err != nil {
		return err
	}
	if !ack.OK {
		return fmt.Errorf("reprocess refused by worker %s: %s", w.id, ack.Error)
	}
	return nil
}

// Workers returns the IDs of currently connected workers.
func (h *Hub) Workers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.workers))
	for id := range h.workers {
		ids = append(ids, id)
	}
	return ids
}
