package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/EchoPBX/energy-bridge/pkg/sdk"
)

const maxLineSize = 4 << 20

// Stdio speaks newline-delimited JSON envelopes over a reader/writer pair,
// typically the process stdin/stdout when spawned by the editor extension.
type Stdio struct {
	w       io.Writer
	writeMu sync.Mutex

	lines chan []byte
	err   error // set before lines is closed

	closeOnce sync.Once
	done      chan struct{}
	closer    io.Closer
}

func NewStdio(r io.Reader, w io.Writer) *Stdio {
	s := &Stdio{
		w:     w,
		lines: make(chan []byte),
		done:  make(chan struct{}),
	}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	go s.readLoop(r)
	return s
}

func (s *Stdio) readLoop(r io.Reader) {
	defer close(s.lines)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		select {
		case s.lines <- cp:
		case <-s.done:
			return
		}
	}
	if err := sc.Err(); err != nil {
		s.err = fmt.Errorf("stdio read: %w", err)
	}
}

func (s *Stdio) Post(_ context.Context, env sdk.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	select {
	case <-s.done:
		return errors.New("stdio transport closed")
	default:
	}
	_, err = s.w.Write(b)
	return err
}

func (s *Stdio) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, io.EOF
	case line, ok := <-s.lines:
		if !ok {
			if s.err != nil {
				return nil, errors.Join(s.err, io.EOF)
			}
			return nil, io.EOF
		}
		return line, nil
	}
}

func (s *Stdio) Live() bool { return true }

func (s *Stdio) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.closer != nil {
			err = s.closer.Close()
		}
	})
	return err
}
