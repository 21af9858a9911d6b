package logging

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrSinkFull is returned by Enqueue when the in-memory buffer is full
var ErrSinkFull = errors.New("logging sink buffer full")

// ErrSinkClosed is returned by Enqueue after Shutdown
var ErrSinkClosed = errors.New("logging sink closed")

// batchWriter persists a batch of records, S3Writer in production
type batchWriter interface {
	WriteBatch(ctx context.Context, records []*GenerationRecord) (string, error)
}

// S3SinkConfig configures buffering for S3Sink
type S3SinkConfig struct {
	BufferSize    int
	FlushSize     int
	FlushInterval time.Duration
	S3Bucket      string
	S3Region      string
	S3Prefix      string
	PodName       string
}

// S3Sink buffers generation records and flushes them to S3 when FlushSize
// records are pending or FlushInterval elapses, whichever comes first.
type S3Sink struct {
	cfg    S3SinkConfig
	writer batchWriter
	logger zerolog.Logger

	recCh  chan *GenerationRecord
	doneCh chan struct{}
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewS3Sink creates an S3-backed sink and starts its flush loop
func NewS3Sink(ctx context.Context, cfg S3SinkConfig) (*S3Sink, error) {
	writer, err := NewS3Writer(ctx, cfg.S3Bucket, cfg.S3Region, cfg.S3Prefix, cfg.PodName)
	if err != nil {
		return nil, err
	}
	return newS3Sink(cfg, writer), nil
}

func newS3Sink(cfg S3SinkConfig, writer batchWriter) *S3Sink {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.FlushSize <= 0 {
		cfg.FlushSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Minute
	}

	s := &S3Sink{
		cfg:    cfg,
		writer: writer,
		logger: Component("s3-sink"),
		recCh:  make(chan *GenerationRecord, cfg.BufferSize),
		doneCh: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Enqueue queues a record without blocking. A full buffer drops the record.
func (s *S3Sink) Enqueue(rec *GenerationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}

	select {
	case s.recCh <- rec:
		return nil
	default:
		return ErrSinkFull
	}
}

func (s *S3Sink) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]*GenerationRecord, 0, s.cfg.FlushSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if _, err := s.writer.WriteBatch(context.Background(), batch); err != nil {
			s.logger.Error().Err(err).Int("count", len(batch)).Msg("dropping generation batch")
		}
		batch = make([]*GenerationRecord, 0, s.cfg.FlushSize)
	}

	for {
		select {
		case rec := <-s.recCh:
			batch = append(batch, rec)
			if len(batch) >= s.cfg.FlushSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.doneCh:
			for {
				select {
				case rec := <-s.recCh:
					batch = append(batch, rec)
				default:
					flush()
					return
				}
			}
		}
	}
}

// Shutdown flushes pending records. It returns ctx.Err() if the final flush
// does not finish in time.
func (s *S3Sink) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.doneCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
