// Package audiofile buffers track downloads and decrypts them on the fly.
// A download starts streaming immediately and playback reads from behind
// the write head; reads past it block until the data arrives. Small
// tracks are buffered in RAM within a configurable budget, everything
// else spills to a temporary file.
package audiofile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"
)

// PrefetchBytes is buffered before a download is handed to the decoder,
// enough for any codec to probe its headers without blocking.
const PrefetchBytes = 32 * 1024

// readTimeout bounds how long a read waits for the write head. The
// network is stalled beyond repair if nothing arrives in this time.
const readTimeout = 5 * time.Second

// copyChunkSize is the unit the download goroutine writes in.
const copyChunkSize = 32 * 1024

// ErrDownloadFailed marks downloads that broke or delivered nothing.
var ErrDownloadFailed = errors.New("download failed")

// Budget caps the total RAM spent on in-memory track buffers. Tracks that
// do not fit fall back to temporary files individually.
type Budget struct {
	mu   sync.Mutex
	max  int64
	used int64
}

// NewBudget creates a budget of max bytes. A zero or negative max
// disables RAM buffering entirely.
func NewBudget(max int64) *Budget {
	return &Budget{max: max}
}

func (b *Budget) acquire(n int64) bool {
	if b == nil || n < 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.used+n > b.max {
		return false
	}
	b.used += n
	return true
}

func (b *Budget) release(n int64) {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.used -= n
	b.mu.Unlock()
}

// backing is where downloaded bytes land: RAM or a temp file.
type backing interface {
	io.ReaderAt
	append(p []byte) error
	Close() error
}

type ramBacking struct {
	mu  sync.RWMutex
	buf []byte
}

func (r *ramBacking) append(p []byte) error {
	r.mu.Lock()
	r.buf = append(r.buf, p...)
	r.mu.Unlock()
	return nil
}

func (r *ramBacking) ReadAt(p []byte, off int64) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if off >= int64(len(r.buf)) {
		return 0, io.EOF
	}
	n := copy(p, r.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (r *ramBacking) Close() error { return nil }

type fileBacking struct {
	f       *os.File
	written int64
}

func (f *fileBacking) append(p []byte) error {
	n, err := f.f.WriteAt(p, f.written)
	f.written += int64(n)
	return err
}

func (f *fileBacking) ReadAt(p []byte, off int64) (int, error) {
	return f.f.ReadAt(p, off)
}

func (f *fileBacking) Close() error {
	name := f.f.Name()
	err := f.f.Close()
	if rmErr := os.Remove(name); err == nil {
		err = rmErr
	}
	return err
}

// Download streams a track URL into local storage while exposing it as an
// io.ReadSeeker. Reads block until the requested range is buffered or the
// download finishes.
type Download struct {
	mu   sync.Mutex
	cond *sync.Cond

	back    backing
	written int64
	size    int64 // -1 when the server sent no length
	done    bool
	err     error
	pos     int64

	cancel   context.CancelFunc
	budget   *Budget
	budgeted int64
}

// Start begins downloading url and returns once PrefetchBytes are
// buffered (or the download ended earlier). The budget decides RAM
// versus temp-file backing; pass nil to always use a file.
func Start(ctx context.Context, client *http.Client, url string, budget *Budget) (*Download, error) {
	ctx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: status %s", ErrDownloadFailed, resp.Status)
	}

	d := &Download{
		size:   resp.ContentLength,
		cancel: cancel,
		budget: budget,
	}
	d.cond = sync.NewCond(&d.mu)

	if d.size >= 0 && budget.acquire(d.size) {
		d.back = &ramBacking{buf: make([]byte, 0, d.size)}
		d.budgeted = d.size
	} else {
		f, err := os.CreateTemp("", "pleezer-*.audio")
		if err != nil {
			resp.Body.Close()
			cancel()
			return nil, fmt.Errorf("create buffer file: %w", err)
		}
		d.back = &fileBacking{f: f}
	}

	go d.run(resp.Body)

	// Let the decoder probe headers without racing the network.
	d.mu.Lock()
	for d.written < PrefetchBytes && !d.done {
		d.cond.Wait()
	}
	err = d.err
	d.mu.Unlock()
	if err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Download) run(body io.ReadCloser) {
	defer body.Close()

	chunk := make([]byte, copyChunkSize)
	for {
		n, err := body.Read(chunk)
		if n > 0 {
			if appendErr := d.back.append(chunk[:n]); appendErr != nil {
				err = appendErr
			}
			d.mu.Lock()
			d.written += int64(n)
			d.cond.Broadcast()
			d.mu.Unlock()
		}
		if err != nil {
			d.mu.Lock()
			d.done = true
			if err != io.EOF {
				d.err = fmt.Errorf("%w: %v", ErrDownloadFailed, err)
			} else if d.written == 0 {
				// A completed download of zero bytes is a server lie.
				d.err = fmt.Errorf("%w: empty response", ErrDownloadFailed)
			} else if d.size >= 0 && d.written < d.size {
				d.err = fmt.Errorf("%w: got %d of %d bytes", ErrDownloadFailed, d.written, d.size)
			}
			d.cond.Broadcast()
			d.mu.Unlock()
			return
		}
	}
}

// Read blocks until data at the current position is buffered, the
// download ends, or the read times out.
func (d *Download) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.waitLocked(d.pos); err != nil {
		return 0, err
	}
	if d.pos >= d.written {
		if d.err != nil {
			return 0, d.err
		}
		return 0, io.EOF
	}

	want := int64(len(p))
	if avail := d.written - d.pos; avail < want {
		want = avail
	}
	n, err := d.back.ReadAt(p[:want], d.pos)
	d.pos += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

// waitLocked waits until offset is behind the write head or the download
// finished. Caller holds the mutex.
func (d *Download) waitLocked(offset int64) error {
	if offset < d.written || d.done {
		return nil
	}
	timeout := time.AfterFunc(readTimeout, func() {
		d.mu.Lock()
		d.cond.Broadcast()
		d.mu.Unlock()
	})
	defer timeout.Stop()

	deadline := time.Now().Add(readTimeout)
	for offset >= d.written && !d.done {
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: read stalled at %d", ErrDownloadFailed, offset)
		}
		d.cond.Wait()
	}
	return nil
}

// Seek repositions the reader. Seeking past the write head is allowed;
// the next Read waits for the data.
func (d *Download) Seek(offset int64, whence int) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = d.pos + offset
	case io.SeekEnd:
		switch {
		case d.size >= 0:
			abs = d.size + offset
		case d.done:
			abs = d.written + offset
		default:
			return 0, fmt.Errorf("seek from end with unknown size")
		}
	default:
		return 0, fmt.Errorf("bad whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("seek before start: %d", abs)
	}
	d.pos = abs
	return abs, nil
}

// Size returns the expected byte size, or false when the server did not
// say and the download is still running.
func (d *Download) Size() (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.size >= 0 {
		return d.size, true
	}
	if d.done {
		return d.written, true
	}
	return 0, false
}

// Buffered returns how many bytes have arrived so far.
func (d *Download) Buffered() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.written
}

// Complete reports whether the whole file is local.
func (d *Download) Complete() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done && d.err == nil
}

// Close aborts the transfer and removes local buffers.
func (d *Download) Close() error {
	d.cancel()
	d.mu.Lock()
	d.done = true
	d.cond.Broadcast()
	back := d.back
	d.mu.Unlock()

	if d.budgeted > 0 {
		d.budget.release(d.budgeted)
		d.budgeted = 0
	}
	if back != nil {
		if err := back.Close(); err != nil {
			log.Printf("[AudioFile] closing buffer: %v", err)
			return err
		}
	}
	return nil
}
