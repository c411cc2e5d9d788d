package hiddenservice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/semaphore"
)

// Accept failures other than a closed service are retried with backoff.
const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// bridge relays rendezvous connections from an OnionService to a loopback
// target. It runs until the service is closed or the bridge is cancelled.
type bridge struct {
	service OnionService
	target  string
	logger  *slog.Logger

	sem         *semaphore.Weighted
	dialTimeout time.Duration

	cancel context.CancelFunc
	done   chan struct{}
	relays sync.WaitGroup

	closeOnce sync.Once
	closeErr  error

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
}

func newBridge(service OnionService, target string, maxRelays int64, dialTimeout time.Duration, logger *slog.Logger) *bridge {
	return &bridge{
		service:     service,
		target:      target,
		logger:      logger,
		sem:         semaphore.NewWeighted(maxRelays),
		dialTimeout: dialTimeout,
		done:        make(chan struct{}),
		conns:       make(map[net.Conn]struct{}),
	}
}

// start launches the accept loop in its own goroutine.
func (b *bridge) start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	go b.run(ctx)
}

// finished reports whether the accept loop has exited.
func (b *bridge) finished() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

func (b *bridge) run(ctx context.Context) {
	defer close(b.done)
	// An ended accept loop must not leave the service published.
	defer b.closeService() //nolint:errcheck // reported by stop

	var delay time.Duration
	for {
		conn, err := b.service.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, net.ErrClosed) {
				b.logger.Warn("onion service stopped producing connections", "error", err)
				return
			}

			delay = nextAcceptDelay(delay)
			b.logger.Warn("accepting rendezvous connection failed, retrying",
				"error", err,
				"retry_in", delay)
			if !sleepCtx(ctx, delay) {
				return
			}
			continue
		}
		delay = 0

		// Acquire blocks while the relay limit is reached, which leaves
		// further rendezvous connections queued inside Tor.
		if err := b.sem.Acquire(ctx, 1); err != nil {
			conn.Close()
			return
		}
		if !b.track(conn) {
			b.sem.Release(1)
			conn.Close()
			return
		}

		b.relays.Add(1)
		go func() {
			defer b.relays.Done()
			defer b.sem.Release(1)
			defer b.untrack(conn)
			b.relay(ctx, conn)
		}()
	}
}

// nextAcceptDelay doubles the pause after a failed Accept, starting at
// minAcceptDelay and capped at maxAcceptDelay.
func nextAcceptDelay(prev time.Duration) time.Duration {
	if prev == 0 {
		return minAcceptDelay
	}
	return min(prev*2, maxAcceptDelay)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// relay connects one rendezvous connection to the target. A failed dial
// drops only this connection.
func (b *bridge) relay(ctx context.Context, inbound net.Conn) {
	dialer := net.Dialer{Timeout: b.dialTimeout}
	outbound, err := dialer.DialContext(ctx, "tcp", b.target)
	if err != nil {
		b.logger.Debug("dropping rendezvous connection", "target", b.target, "error", err)
		inbound.Close()
		return
	}
	if !b.track(outbound) {
		outbound.Close()
		inbound.Close()
		return
	}
	defer b.untrack(outbound)

	if err := bridgeConnections(inbound, outbound); err != nil {
		b.logger.Debug("relay ended with error", "error", err)
	}
}

// stop cancels the accept loop, closes the service and every live
// connection, and waits for all relays to exit.
func (b *bridge) stop() error {
	if b.cancel != nil {
		b.cancel()
	}
	err := b.closeService()

	b.mu.Lock()
	b.closed = true
	for conn := range b.conns {
		conn.Close()
	}
	b.mu.Unlock()

	<-b.done
	b.relays.Wait()
	return err
}

// closeService closes the onion service once and returns the result of
// that close on every call.
func (b *bridge) closeService() error {
	b.closeOnce.Do(func() {
		b.closeErr = b.service.Close()
	})
	return b.closeErr
}

func (b *bridge) track(conn net.Conn) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.conns[conn] = struct{}{}
	return true
}

func (b *bridge) untrack(conn net.Conn) {
	b.mu.Lock()
	delete(b.conns, conn)
	b.mu.Unlock()
}

// bridgeConnections copies bytes in both directions until either side
// finishes, then closes both so the other copy unblocks.
func bridgeConnections(a, b net.Conn) error {
	type copyResult struct {
		err error
	}
	done := make(chan copyResult, 2)

	go func() {
		_, err := io.Copy(b, a)
		done <- copyResult{err}
	}()
	go func() {
		_, err := io.Copy(a, b)
		done <- copyResult{err}
	}()

	first := <-done
	a.Close()
	b.Close()
	<-done

	if first.err != nil && !isExpectedCloseError(first.err) {
		return first.err
	}
	return nil
}

// isExpectedCloseError reports whether err is the normal result of a peer
// or local side closing the connection.
func isExpectedCloseError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
