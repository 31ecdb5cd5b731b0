package segio

import (
	"container/list"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// DefaultMaxOpenFiles is the default bound on concurrently open OS
// file handles kept by a Pool (spec.md §4.A).
const DefaultMaxOpenFiles = 32

// Pool is an LRU-bounded set of open segment files, addressed by
// 1-based segment number. Handles are opened lazily on first access
// and evicted (closed) when the pool is over capacity.
type Pool struct {
	mu       sync.Mutex
	locator  Locator
	maxOpen  int
	write    bool
	ll       *list.List
	byNumber map[int]*list.Element
}

type poolEntry struct {
	segment int
	file    *os.File
}

// NewPool returns a Pool that opens files read-only (write=false) or
// read-write, creating as needed (write=true), through locator.
// maxOpen <= 0 uses DefaultMaxOpenFiles.
func NewPool(locator Locator, write bool, maxOpen int) *Pool {
	if maxOpen <= 0 {
		maxOpen = DefaultMaxOpenFiles
	}
	return &Pool{
		locator:  locator,
		maxOpen:  maxOpen,
		write:    write,
		ll:       list.New(),
		byNumber: make(map[int]*list.Element),
	}
}

// Open returns (opening if necessary) the *os.File for segmentNumber,
// evicting the least-recently-used handle if the pool is full.
func (p *Pool) Open(segmentNumber int) (*os.File, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if el, ok := p.byNumber[segmentNumber]; ok {
		p.ll.MoveToFront(el)
		return el.Value.(*poolEntry).file, nil
	}

	name, err := p.locator.Name(segmentNumber)
	if err != nil {
		return nil, err
	}

	var f *os.File
	if p.write {
		f, err = os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0o644)
	} else {
		f, err = os.Open(name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "segio: open segment %d (%s)", segmentNumber, name)
	}

	el := p.ll.PushFront(&poolEntry{segment: segmentNumber, file: f})
	p.byNumber[segmentNumber] = el

	for p.ll.Len() > p.maxOpen {
		back := p.ll.Back()
		if back == nil {
			break
		}
		entry := back.Value.(*poolEntry)
		if entry.segment == segmentNumber {
			break // never evict the handle we just returned
		}
		entry.file.Close()
		p.ll.Remove(back)
		delete(p.byNumber, entry.segment)
	}

	return f, nil
}

// CloseAll closes every open handle and resets the pool.
func (p *Pool) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for el := p.ll.Front(); el != nil; el = el.Next() {
		if err := el.Value.(*poolEntry).file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.ll.Init()
	p.byNumber = make(map[int]*list.Element)
	return firstErr
}

// Forget closes and evicts a single segment's handle without closing
// the rest of the pool; used by the writer when rotating segments.
func (p *Pool) Forget(segmentNumber int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	el, ok := p.byNumber[segmentNumber]
	if !ok {
		return nil
	}
	entry := el.Value.(*poolEntry)
	err := entry.file.Close()
	p.ll.Remove(el)
	delete(p.byNumber, segmentNumber)
	return err
}
