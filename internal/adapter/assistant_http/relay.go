package assistant_http

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"campus-assistant/internal/domain"
	"campus-assistant/internal/infra/sse"
)

// relay forwards session chunks to the client as event frames. The response
// is committed on the first chunk, so errors raised before that can still be
// sent as a plain JSON error.
type relay struct {
	mu  sync.Mutex
	res *echo.Response
	w   *sse.Writer
}

func newRelay(res *echo.Response) *relay {
	return &relay{res: res}
}

func (r *relay) beginLocked() {
	if r.w != nil {
		return
	}
	sse.SetHeaders(r.res.Header())
	r.res.WriteHeader(http.StatusOK)
	r.w = sse.NewWriter(r.res)
}

func (r *relay) started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.w != nil
}

// observe is a session.Observer.
func (r *relay) observe(chunk domain.StreamChunk) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beginLocked()

	if _, ok := chunk.(domain.DoneChunk); ok {
		_ = r.w.WriteDone()
		return
	}
	_ = r.w.WriteChunk(chunk)
}

// fail writes a terminal error frame.
func (r *relay) fail(err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beginLocked()

	retryable := domain.IsRetryable(err)
	return r.w.WriteChunk(domain.ErrorChunk{Message: domain.UserMessage(err), Retryable: &retryable})
}

// keepAlive writes heartbeat comments once the stream has started. The
// returned func stops it and waits for the loop to exit.
func (r *relay) keepAlive(interval time.Duration) func() {
	if interval <= 0 {
		return func() {}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				r.mu.Lock()
				if r.w != nil {
					_ = r.w.Heartbeat()
				}
				r.mu.Unlock()
			}
		}
	}()

	return func() {
		close(stop)
		<-done
	}
}
