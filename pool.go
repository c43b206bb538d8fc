// Licensed to the Apache Software Foundation (ASF) under one
// or more contributor license agreements.  See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership.  The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License.  You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package binarch

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// BufferPool recycles ByteBuffers across package-level Marshal calls, the
// pooled front door named in SPEC_FULL supplement 4. Checkout/Release are
// exported so callers embedding binarch in a hot path can bypass the
// package-level Marshal/Unmarshal and manage the buffer lifetime directly.
type BufferPool struct {
	pool sync.Pool

	checkouts int64
	releases  int64
	logger    *zap.Logger
}

// NewBufferPool creates an empty pool. A nil logger installs a no-op
// zap.Logger.
func NewBufferPool(logger *zap.Logger) *BufferPool {
	if logger == nil {
		logger = zap.NewNop()
	}
	bp := &BufferPool{logger: logger}
	bp.pool.New = func() interface{} { return NewByteBuffer(nil) }
	return bp
}

// Checkout returns a reset ByteBuffer ready for writing.
func (p *BufferPool) Checkout() *ByteBuffer {
	atomic.AddInt64(&p.checkouts, 1)
	buf := p.pool.Get().(*ByteBuffer)
	buf.data = buf.data[:0]
	buf.readerIndex = 0
	return buf
}

// Release returns buf to the pool. Whenever the pool's total number of
// releases exceeds its total number of checkouts, a Warn is logged since it
// signals the caller's lifetime bookkeeping has drifted, but it is not
// fatal. Individual buffers are not tracked, so releasing the same buffer
// twice is reported only when it pushes the release total past the
// checkout total.
func (p *BufferPool) Release(buf *ByteBuffer) {
	released := atomic.AddInt64(&p.releases, 1)
	if checked := atomic.LoadInt64(&p.checkouts); released > checked {
		p.logger.Warn("buffer pool released more buffers than were checked out",
			zap.Int64("checkouts", checked), zap.Int64("releases", released))
	}
	p.pool.Put(buf)
}

var (
	defaultArchiver = NewArchiver()
	defaultPool     = NewBufferPool(nil)
)

// DefaultArchiver returns the process-wide Archiver backing the
// package-level Marshal/Unmarshal helpers; register types on it through its
// own RegisterType/RegisterExternalType/RegisterEnumType methods.
func DefaultArchiver() *Archiver { return defaultArchiver }

// Marshal encodes value using the default Archiver and a pooled buffer.
func Marshal(value interface{}) ([]byte, error) {
	buf := defaultPool.Checkout()
	defer defaultPool.Release(buf)
	if err := defaultArchiver.Serialize(buf, value, nil); err != nil {
		return nil, err
	}
	out := make([]byte, buf.WriterIndex())
	copy(out, buf.Bytes())
	return out, nil
}

// Unmarshal decodes data, written by Marshal, into dst using the default
// Archiver.
func Unmarshal(data []byte, dst interface{}) error {
	return defaultArchiver.Unmarshal(data, dst)
}
