// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gvisor.dev/gvisor/pkg/log"

	"github.com/genodelabs/genode-sub006/pkg/netapi/netapitest"
	"github.com/genodelabs/genode-sub006/pkg/netapi/netstack"
	"github.com/genodelabs/genode-sub006/pkg/socketfs"
	"github.com/genodelabs/genode-sub006/sockfs/config"
)

// waitTimeout bounds how long a command waits for a file to become ready.
const (
	waitTimeout = 10 * time.Second

	// retryInterval paces polling of stacks that need kicks and of writes
	// that were queued.
	retryInterval = 10 * time.Millisecond
)

// env is a file system together with the stack backing it.
type env struct {
	fs *socketfs.FileSystem

	// kick makes the stack progress. It is set for stacks that do not
	// progress on their own.
	kick func()

	cancel context.CancelFunc
	group  *errgroup.Group
	close  func()
}

// newEnv builds the stack selected by conf and a file system on top of it.
// For the gVisor stack the progress dispatcher runs in the background until
// Close.
func newEnv(ctx context.Context, conf *config.Config) (*env, error) {
	e := &env{}
	switch conf.Backend {
	case config.BackendFake:
		stack := netapitest.New(conf.InterfaceConfig())
		e.fs = socketfs.New(stack, conf.FSOptions())
		e.kick = stack.Flush
		e.close = func() {}
	case config.BackendNetstack:
		stack, err := netstack.New(conf.NetstackOptions())
		if err != nil {
			return nil, fmt.Errorf("creating network stack: %w", err)
		}
		e.fs = socketfs.New(stack, conf.FSOptions())
		ctx, e.cancel = context.WithCancel(ctx)
		e.group, ctx = errgroup.WithContext(ctx)
		e.group.Go(func() error { return stack.Run(ctx) })
		e.kick = func() {}
		e.close = stack.Close
	default:
		return nil, fmt.Errorf("unknown backend %v", conf.Backend)
	}
	log.Infof("Using %v backend", conf.Backend)
	return e, nil
}

// Close tears down the file system, the dispatcher and the stack.
func (e *env) Close() error {
	err := e.fs.Close()
	if e.cancel != nil {
		e.cancel()
		if werr := e.group.Wait(); !errors.Is(werr, context.Canceled) {
			err = multierr.Append(err, werr)
		}
	}
	e.close()
	return err
}

// waitReadable blocks until h is readable.
func (e *env) waitReadable(ctx context.Context, h *socketfs.FileHandle) error {
	ctx, cancel := context.WithTimeout(ctx, waitTimeout)
	defer cancel()
	ch := e.fs.NotifyReadReady(h)
	tick := time.NewTicker(retryInterval)
	defer tick.Stop()
	for {
		select {
		case <-ch:
			return nil
		case <-tick.C:
			e.kick()
		case <-ctx.Done():
			return fmt.Errorf("waiting for read readiness: %w", ctx.Err())
		}
	}
}

// read reads from h, waiting while the read is queued.
func (e *env) read(ctx context.Context, h *socketfs.FileHandle, buf []byte) (int, error) {
	for {
		n, err := e.fs.Read(h, buf)
		if !errors.Is(err, socketfs.ErrQueued) {
			return n, err
		}
		if err := e.waitReadable(ctx, h); err != nil {
			return 0, err
		}
	}
}

// write writes all of src to h, waiting while the write is queued.
func (e *env) write(ctx context.Context, h *socketfs.FileHandle, src []byte) error {
	ctx, cancel := context.WithTimeout(ctx, waitTimeout)
	defer cancel()
	retry := rate.NewLimiter(rate.Every(retryInterval), 1)
	for len(src) > 0 {
		n, err := e.fs.Write(h, src)
		switch {
		case errors.Is(err, socketfs.ErrQueued):
			e.kick()
			if err := retry.Wait(ctx); err != nil {
				return fmt.Errorf("waiting for write readiness: %w", err)
			}
		case err != nil:
			return err
		default:
			src = src[n:]
		}
	}
	return nil
}

// readString reads the content of a control file from its start.
func (e *env) readString(ctx context.Context, h *socketfs.FileHandle) (string, error) {
	h.SetSeek(0)
	var buf [socketfs.MaxDataLen]byte
	n, err := e.read(ctx, h, buf[:])
	return string(buf[:n]), err
}
