package session

import (
	"context"
	"errors"
	"sync"

	"github.com/vango-go/soporte-live/pkg/casefile"
	"github.com/vango-go/soporte-live/pkg/live/capture"
	"github.com/vango-go/soporte-live/pkg/live/playback"
)

// resources are the handles one session holds. release frees them all and
// may be called any number of times.
type resources struct {
	mu       sync.Mutex
	released bool

	cancel    context.CancelFunc
	kase      *casefile.Case
	capture   *capture.Pipeline
	scheduler *playback.Scheduler
	conn      Conn
}

// setConn records the negotiated connection. It reports false when the
// session was already released, in which case the caller must close conn.
func (r *resources) setConn(conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return false
	}
	r.conn = conn
	return true
}

// release retires the case handle, stops capture (and with it the
// microphone track), closes the output, closes the remote connection and
// cancels the session context. It reports whether this call did the work.
func (r *resources) release() (bool, error) {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return false, nil
	}
	r.released = true
	kase, pipeline, scheduler, conn, cancel := r.kase, r.capture, r.scheduler, r.conn, r.cancel
	r.kase, r.capture, r.scheduler, r.conn, r.cancel = nil, nil, nil, nil, nil
	r.mu.Unlock()

	if kase != nil {
		kase.Retire()
	}
	var errs []error
	if pipeline != nil {
		if err := pipeline.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if scheduler != nil {
		if err := scheduler.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if cancel != nil {
		cancel()
	}
	return true, errors.Join(errs...)
}
