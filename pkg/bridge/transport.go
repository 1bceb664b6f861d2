package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	slogctx "github.com/veqryn/slog-context"
)

// RequestIDHeader carries the caller's request id on the HTTP transport.
const RequestIDHeader = "Bridge-Request-Id"

const maxBodyBytes = 1 << 20

// Transport carries messages between the channel and an embedded web view.
type Transport interface {
	Receive(ctx context.Context) (Request, error)
	Send(ctx context.Context, reply Reply) error
}

// Serve reads requests from t until it returns an error or ctx ends, and
// dispatches each on its own goroutine. Replies are written one at a time.
// io.EOF from Receive ends Serve without error.
func (c *Channel) Serve(ctx context.Context, t Transport) error {
	if err := c.Validate(); err != nil {
		return err
	}

	var (
		wg     sync.WaitGroup
		sendMu sync.Mutex
	)
	defer wg.Wait()

	for {
		req, err := t.Receive(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receiving bridge request: %w", err)
		}

		if req.ID == "" {
			req.ID = uuid.NewString()
		}

		wg.Go(func() {
			reply := c.Dispatch(ctx, req)

			sendMu.Lock()
			defer sendMu.Unlock()
			if err := t.Send(ctx, reply); err != nil {
				slogctx.Error(ctx, "Failed to send bridge reply", "bridge_request_id", reply.ID, "error", err)
			}
		})
	}
}

// HTTPHandler exposes the channel as POST {prefix}/{handler}. Every request
// is answered with 200 and a reply document, errors included.
func (c *Channel) HTTPHandler(prefix string) (http.Handler, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	r := mux.NewRouter()
	r.HandleFunc(prefix+"/{handler}", c.serveHTTP).Methods(http.MethodPost)

	return r, nil
}

func (c *Channel) serveHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(RequestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}

	req := Request{
		ID:      id,
		Handler: mux.Vars(r)["handler"],
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeReply(r.Context(), w, errorReply(id, "reading request body: "+err.Error()))
		return
	}
	if len(body) > 0 {
		if !json.Valid(body) {
			writeReply(r.Context(), w, errorReply(id, "request body must be valid JSON"))
			return
		}
		req.Body = body
	}

	writeReply(r.Context(), w, c.Dispatch(r.Context(), req))
}

func writeReply(ctx context.Context, w http.ResponseWriter, reply Reply) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(RequestIDHeader, reply.ID)
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(reply); err != nil {
		slogctx.Error(ctx, "Failed to write bridge reply", "error", err)
	}
}
