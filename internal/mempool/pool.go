package mempool

import (
	"sync"
)

// Sized pools for the scratch buffers used by segmentation and batch tensors.

var (
	float32Pools sync.Map // key: size class (int), value: *sync.Pool
	uint8Pools   sync.Map
	int32Pools   sync.Map
)

// sizeClass rounds n up to the next multiple of 1024.
func sizeClass(n int) int {
	if n <= 1024 {
		return 1024
	}
	const step = 1024
	r := (n + step - 1) / step
	return r * step
}

func get[T any](pools *sync.Map, n int, zero bool) []T {
	if n < 0 {
		n = 0
	}
	cls := sizeClass(n)
	pAny, _ := pools.LoadOrStore(cls, &sync.Pool{New: func() any { return make([]T, cls) }})
	p, ok := pAny.(*sync.Pool)
	if !ok {
		return make([]T, cls)[:n]
	}
	buf, ok := p.Get().([]T)
	if !ok || cap(buf) < cls {
		buf = make([]T, cls)
	}
	buf = buf[:n]
	if zero {
		clear(buf)
	}
	return buf
}

func put[T any](pools *sync.Map, buf []T) {
	if buf == nil {
		return
	}
	cls := sizeClass(cap(buf))
	if cls != cap(buf) {
		// foreign slice; a pool only holds exact size classes
		return
	}
	pAny, _ := pools.LoadOrStore(cls, &sync.Pool{New: func() any { return make([]T, cls) }})
	if p, ok := pAny.(*sync.Pool); ok {
		p.Put(buf[:cap(buf)]) //nolint:staticcheck
	}
}

// GetFloat32 returns a []float32 of length n. Contents are not zeroed.
// Return it with PutFloat32 when done.
func GetFloat32(n int) []float32 { return get[float32](&float32Pools, n, false) }

// PutFloat32 returns a buffer to the pool. It is safe to pass a nil slice.
func PutFloat32(buf []float32) { put(&float32Pools, buf) }

// GetUint8 returns a zeroed []uint8 of length n.
func GetUint8(n int) []uint8 { return get[uint8](&uint8Pools, n, true) }

// PutUint8 returns a buffer to the pool.
func PutUint8(buf []uint8) { put(&uint8Pools, buf) }

// GetInt32 returns a zeroed []int32 of length n.
func GetInt32(n int) []int32 { return get[int32](&int32Pools, n, true) }

// PutInt32 returns a buffer to the pool.
func PutInt32(buf []int32) { put(&int32Pools, buf) }
